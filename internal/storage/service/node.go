package service

import (
	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/storage-gateway/internal/pkg/auth"
	apperrors "github.com/lk2023060901/storage-gateway/internal/pkg/errors"
	"github.com/lk2023060901/storage-gateway/internal/pkg/response"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
)

// NodeService 节点管理接口（管理员）
type NodeService struct {
	registry *biz.NodeRegistry
}

func NewNodeService(registry *biz.NodeRegistry) *NodeService {
	return &NodeService{registry: registry}
}

// RegisterRoutes 注册路由（需要先经过 JWTAuth）
func (s *NodeService) RegisterRoutes(r gin.IRouter) {
	nodes := r.Group("/admin/nodes", auth.RequireRole(auth.RoleAdmin))
	nodes.POST("", s.Register)
	nodes.GET("", s.List)
	nodes.GET("/:id", s.Get)
	nodes.PATCH("/:id/status", s.UpdateStatus)
}

// Register 注册或更新节点
func (s *NodeService) Register(c *gin.Context) {
	var req RegisterNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, err.Error())
		return
	}
	backend, err := biz.ParseBackendType(req.BackendType)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	var status biz.NodeStatus
	if req.Status != "" {
		if status, err = biz.ParseNodeStatus(req.Status); err != nil {
			response.HandleError(c, err)
			return
		}
	}

	node, err := s.registry.Register(c.Request.Context(), biz.NodeSpec{
		NodeID:        req.NodeID,
		BackendType:   backend,
		Endpoint:      req.Endpoint,
		PublicURL:     req.PublicURL,
		AccessKey:     req.AccessKey,
		SecretKey:     req.SecretKey,
		Bucket:        req.Bucket,
		Region:        req.Region,
		UseSSL:        req.UseSSL,
		TotalCapacity: req.TotalCapacity,
		Status:        status,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Created(c, toNodeResponse(node))
}

// List 全部节点
func (s *NodeService) List(c *gin.Context) {
	nodes, err := s.registry.List(c.Request.Context())
	if err != nil {
		response.HandleError(c, err)
		return
	}
	items := make([]*NodeResponse, len(nodes))
	for i, n := range nodes {
		items[i] = toNodeResponse(n)
	}
	response.Success(c, items)
}

// Get 单个节点
func (s *NodeService) Get(c *gin.Context) {
	node, err := s.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toNodeResponse(node))
}

// UpdateStatus 更新节点状态
func (s *NodeService) UpdateStatus(c *gin.Context) {
	var req UpdateNodeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, err.Error())
		return
	}
	status, err := biz.ParseNodeStatus(req.Status)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	node, err := s.registry.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toNodeResponse(node))
}
