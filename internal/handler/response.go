package handler

import (
	"errors"
	"net/http"

	"github.com/blues/chamasvc/internal/logic"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
	})
}

// logicErrorResponse 把logic层错误映射到HTTP状态码
func logicErrorResponse(c *gin.Context, err error) {
	switch {
	case errors.Is(err, logic.ErrChamaNotFound),
		errors.Is(err, logic.ErrMemberNotFound),
		errors.Is(err, logic.ErrRoundNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case logic.IsValidationError(err):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	default:
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
	}
}
