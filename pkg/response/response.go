// Package response 提供统一的 HTTP 响应格式与业务错误码到状态码的映射
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
)

// ErrorCodeKey gin context key，存放本次请求的业务错误码，供指标中间件读取
const ErrorCodeKey = "error_code"

// Body 统一响应体
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Success 返回 200 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Code: "OK", Data: data})
}

// Created 返回 201 成功响应
func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Body{Code: "OK", Data: data})
}

// Error 根据业务错误码返回对应状态码
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.Set(ErrorCodeKey, string(kind))
	c.JSON(statusFor(kind), Body{Code: string(kind), Message: err.Error()})
}

// ErrorWithStatus 返回指定状态码的错误响应
func ErrorWithStatus(c *gin.Context, status int, code, message string) {
	c.Set(ErrorCodeKey, code)
	c.JSON(status, Body{Code: code, Message: message})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAccessDenied:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindInsufficientFunds, apperr.KindInsufficientCollateral:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
