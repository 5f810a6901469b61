package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/pasi-sync-api/internal/models"
	appErrors "github.com/noah-isme/pasi-sync-api/pkg/errors"
)

func schoolYearParam(c *gin.Context) (models.SchoolYear, error) {
	sy, err := models.ParseSchoolYear(c.Param("year"))
	if err != nil {
		return models.SchoolYear{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "school year must look like 24_25")
	}
	return sy, nil
}

func bucketParam(c *gin.Context) (models.Bucket, error) {
	bucket, err := models.ParseBucket(c.Param("bucket"))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "unknown report bucket")
	}
	return bucket, nil
}
