package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	attributiondomain "github.com/smallbiznis/loyaltyrail/internal/attribution/domain"
	obscontext "github.com/smallbiznis/loyaltyrail/internal/observability/context"
)

type arrivalRequest struct {
	MerchantID     string `json:"merchantId"`
	ReferrerWallet string `json:"referrerWallet"`
	SubjectRef     string `json:"subjectRef"`
	Source         string `json:"source"`
	VisitorWallet  string `json:"visitorWallet"`
}

type arrivalResponse struct {
	TouchpointID string `json:"touchpointId"`
	ExpiresAt    string `json:"expiresAt"`
	Created      bool   `json:"created"`
}

func (s *Server) RecordArrival(c *gin.Context) {
	var req arrivalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	merchantID, err := snowflake.ParseString(strings.TrimSpace(req.MerchantID))
	if err != nil || merchantID <= 0 {
		AbortWithError(c, newValidationError("merchantId", "invalid_merchant_id", "invalid merchant id"))
		return
	}
	if claims := claimsFromContext(c); claims != nil && claims.MerchantID != "" && claims.MerchantID != merchantID.String() {
		AbortWithError(c, ErrForbidden)
		return
	}

	ctx := obscontext.WithMerchantID(c.Request.Context(), merchantID.String())
	tp, created, err := s.arrivals.RecordArrival(ctx, attributiondomain.Arrival{
		TouchpointInput: attributiondomain.TouchpointInput{
			MerchantID:     merchantID,
			SubjectRef:     req.SubjectRef,
			ReferrerWallet: req.ReferrerWallet,
			Source:         req.Source,
		},
		VisitorWallet: req.VisitorWallet,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, arrivalResponse{
		TouchpointID: tp.ID.String(),
		ExpiresAt:    tp.ExpiresAt.UTC().Format(time.RFC3339),
		Created:      created,
	})
}
