package http

import (
	"github.com/gin-gonic/gin"
)

// Module is a feature that mounts its own routes. The pipeline handler is the
// only one today; router.New calls RegisterRoutes on each in App.Modules order.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext hands a module the groups it may mount on. Routes on V1 are
// public unless the module adds its own guard (the webhook checks a shared
// secret). Everything on Admin already requires the X-Admin-Key header.
type RouterContext struct {
	Engine *gin.Engine
	V1     *gin.RouterGroup
	Admin  *gin.RouterGroup
}
