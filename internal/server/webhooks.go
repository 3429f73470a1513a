package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/domain"
	"github.com/smallbiznis/loyaltyrail/internal/merchant/resolver"
	merchantservice "github.com/smallbiznis/loyaltyrail/internal/merchant/service"
	"go.uber.org/zap"
)

const webhookOutcomeKey = "webhook_outcome"

func (s *Server) HandleShopifyWebhook(c *gin.Context) {
	s.handleDirectWebhook(c, domain.PlatformShopify)
}

func (s *Server) HandleWooCommerceWebhook(c *gin.Context) {
	s.handleDirectWebhook(c, domain.PlatformWooCommerce)
}

func (s *Server) HandleCustomWebhook(c *gin.Context) {
	identifier := strings.TrimSpace(c.Param("identifier"))
	s.ingest(c, domain.PlatformCustom, resolver.IdentifierTarget{Identifier: identifier})
}

func (s *Server) handleDirectWebhook(c *gin.Context, platform domain.Platform) {
	merchantID, err := snowflake.ParseString(strings.TrimSpace(c.Param("merchantId")))
	if err != nil || merchantID <= 0 {
		s.respondWebhook(c, fmt.Errorf("%w: merchant id", domain.ErrWebhookNotFound))
		return
	}
	s.ingest(c, platform, resolver.DirectTarget{Platform: platform, MerchantID: merchantID})
}

// ingest always answers 200 so platforms do not retry rejected deliveries.
func (s *Server) ingest(c *gin.Context, platform domain.Platform, target resolver.Target) {
	body, err := s.readBody(c)
	if err != nil {
		s.respondWebhook(c, err)
		return
	}

	_, err = s.webhooks.Ingest(c.Request.Context(), merchantservice.Request{
		Platform: platform,
		Target:   target,
		Body:     body,
		Headers:  c.Request.Header,
	})
	s.respondWebhook(c, err)
}

func (s *Server) readBody(c *gin.Context) ([]byte, error) {
	reader := io.Reader(c.Request.Body)
	if limit := s.cfg.Webhook.MaxBodyBytes; limit > 0 {
		reader = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrInvalidPayload, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return body, nil
}

func (s *Server) respondWebhook(c *gin.Context, err error) {
	if err == nil {
		c.Set(webhookOutcomeKey, "ok")
		c.String(http.StatusOK, "ok")
		return
	}
	reason := domain.Reason(err)
	if reason == domain.ReasonProcessingFailed {
		s.log.Error("webhook.processing.failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.Set(webhookOutcomeKey, reason)
	c.String(http.StatusOK, "ko: "+reason)
}
