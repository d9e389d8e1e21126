package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sinenomine/cellcc/internal/jobstore"
)

// registerRoutes sets up the dashboard's read-only routes.
func registerRoutes(router *gin.Engine, store *jobstore.Store) {
	router.GET("/", handleIndex())
	router.GET("/jobs", handleJobs(store))
	router.GET("/jobs/errors", handleErrorJobs(store))
	router.GET("/api/events", handleSSE(store))
}

func handleIndex() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "cellcc",
			"routes":  []string{"/jobs", "/jobs/errors", "/api/events"},
		})
	}
}

func handleJobs(store *jobstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := store.DescribeJobs(jobstore.Filters{
			SrcCell: c.Query("src_cell"),
			Qname:   c.Query("queue"),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, jobs)
	}
}

func handleErrorJobs(store *jobstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := store.DescribeJobs(jobstore.Filters{Errors: true})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, jobs)
	}
}
