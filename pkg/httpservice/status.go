package httpservice

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/go-sblite/pkg/servicebusclient"
)

// StatusSource reports the live state of one receiving entity.
type StatusSource interface {
	Status() servicebusclient.ReceiverStatus
}

type statusHandler struct {
	sources []StatusSource
}

// NewStatusHandler serves GET /status with every source's state, and
// GET /ready, which fails once any source's connection has failed or closed.
func NewStatusHandler(sources ...StatusSource) Handler {
	return &statusHandler{sources: sources}
}

func (h *statusHandler) Register(router *gin.Engine) {
	router.GET("/status", h.status)
	router.GET("/ready", h.ready)
}

func (h *statusHandler) status(c *gin.Context) {
	receivers := make([]servicebusclient.ReceiverStatus, 0, len(h.sources))
	for _, src := range h.sources {
		receivers = append(receivers, src.Status())
	}
	c.JSON(http.StatusOK, gin.H{"receivers": receivers})
}

func (h *statusHandler) ready(c *gin.Context) {
	for _, src := range h.sources {
		st := src.Status()
		if !st.Usable() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"entity": st.Entity,
				"state":  st.ConnectionState,
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
