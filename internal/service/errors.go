package service

import "errors"

var (
	ErrEmptyMessage      = errors.New("message must not be empty")
	ErrInvalidAnswer     = errors.New("answer must be yes or no")
	ErrNotPDF            = errors.New("only PDF files can be uploaded")
	ErrInvalidPagination = errors.New("limit must be 1-100 and skip must not be negative")
	ErrEmptyTitle        = errors.New("title must not be empty")
)
