package response

import (
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

func Error(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorBody{Detail: message})
}
