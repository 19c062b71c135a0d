package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// paymentRequest is the body of /verify and /settle. Payload and
// requirements stay raw so v1 and v2 shapes pass through untouched.
type paymentRequest struct {
	PaymentPayload      json.RawMessage `json:"paymentPayload" binding:"required"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements" binding:"required"`
}

// extractNetworkScheme pulls metric labels out of the requirements.
// Both protocol versions carry scheme and network at the top level.
func extractNetworkScheme(requirementsBytes []byte) (network, scheme string) {
	var probe struct {
		Scheme  string `json:"scheme"`
		Network string `json:"network"`
	}
	if err := json.Unmarshal(requirementsBytes, &probe); err != nil {
		return "unknown", "unknown"
	}
	if probe.Network == "" {
		probe.Network = "unknown"
	}
	if probe.Scheme == "" {
		probe.Scheme = "unknown"
	}
	return probe.Network, probe.Scheme
}

func (s *Server) handleVerify(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	network, scheme := extractNetworkScheme(req.PaymentRequirements)

	resp, err := s.facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.logger.Error("verify failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("network", network),
			zap.String("scheme", scheme),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.RecordVerify(network, scheme, false)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	if s.metrics != nil {
		s.metrics.RecordVerify(network, scheme, resp.IsValid)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSettle(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	network, scheme := extractNetworkScheme(req.PaymentRequirements)

	resp, err := s.facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.logger.Error("settle failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("network", network),
			zap.String("scheme", scheme),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.RecordSettle(network, scheme, false)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed"})
		return
	}

	if s.metrics != nil {
		s.metrics.RecordSettle(network, scheme, resp.Success)
	}
	if !resp.Success {
		// Declined settlements are protocol outcomes, not server faults.
		c.JSON(http.StatusUnprocessableEntity, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSupported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.GetSupported())
}
