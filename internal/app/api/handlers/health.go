package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/studkg/cashier/pkg/response"
)

const healthTimeout = 2 * time.Second

// @Summary      Health check
// @Description  Returns service status; database reports whether the store answers a ping.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /healthz [get]
func Healthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := map[string]string{"status": "ok", "database": "ok"}
		if err := ping(c.Request.Context(), db); err != nil {
			out["status"] = "degraded"
			out["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, response.ErrorT(response.APIResponseCodeError, out))
			return
		}
		c.JSON(http.StatusOK, response.OKT(out))
	}
}

func ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func RegisterHealthRoutes(r gin.IRouter, db *gorm.DB) {
	r.GET("/healthz", Healthz(db))
}
