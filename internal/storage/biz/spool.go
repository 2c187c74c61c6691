package biz

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// DefaultSpoolThreshold 超过该大小的内容落盘到临时文件
const DefaultSpoolThreshold = 8 << 20

// spool 可重放缓冲：小内容放内存，超过阈值转存临时文件
type spool struct {
	threshold int64
	dir       string
	mem       bytes.Buffer
	file      *os.File
	size      int64
}

func newSpool(threshold int64, dir string) *spool {
	if threshold <= 0 {
		threshold = DefaultSpoolThreshold
	}
	return &spool{threshold: threshold, dir: dir}
}

func (s *spool) Write(p []byte) (int, error) {
	if s.file == nil && int64(s.mem.Len()+len(p)) > s.threshold {
		f, err := os.CreateTemp(s.dir, "gateway-spool-*")
		if err != nil {
			return 0, fmt.Errorf("create spool file: %w", err)
		}
		if _, err := f.Write(s.mem.Bytes()); err != nil {
			f.Close()
			os.Remove(f.Name())
			return 0, fmt.Errorf("write spool file: %w", err)
		}
		s.mem.Reset()
		s.file = f
	}

	var n int
	var err error
	if s.file != nil {
		n, err = s.file.Write(p)
	} else {
		n, err = s.mem.Write(p)
	}
	s.size += int64(n)
	return n, err
}

// Size 已缓冲字节数
func (s *spool) Size() int64 {
	return s.size
}

// Reader 从头重放缓冲内容
func (s *spool) Reader() (io.Reader, error) {
	if s.file == nil {
		return bytes.NewReader(s.mem.Bytes()), nil
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	return s.file, nil
}

// Close 释放临时文件
func (s *spool) Close() error {
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	if rmErr := os.Remove(name); err == nil {
		err = rmErr
	}
	s.file = nil
	return err
}
