package sender

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/queueme/notification-engine/internal/domain"
)

const defaultSendTimeout = 15 * time.Second

type batchRequest struct {
	Channel string      `json:"channel"`
	Items   []BatchItem `json:"items"`
}

type batchResponse struct {
	Results []batchResult `json:"results"`
}

type batchResult struct {
	DeliveryID string `json:"deliveryId"`
	Status     string `json:"status"`
	MessageID  string `json:"messageId,omitempty"`
	Error      string `json:"error,omitempty"`
	Permanent  bool   `json:"permanent,omitempty"`
}

// HTTPSender posts delivery batches to per-channel gateway endpoints.
type HTTPSender struct {
	client    *resty.Client
	endpoints map[domain.Channel]string
}

func NewHTTPSender(endpoints map[domain.Channel]string, timeout time.Duration) (*HTTPSender, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewHTTPSenderWithClient(endpoints, client)
}

func NewHTTPSenderWithClient(endpoints map[domain.Channel]string, client *resty.Client) (*HTTPSender, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	validated := make(map[domain.Channel]string, len(endpoints))
	for channel, endpoint := range endpoints {
		trimmed := strings.TrimSpace(endpoint)
		if trimmed == "" {
			continue
		}
		if _, err := url.ParseRequestURI(trimmed); err != nil {
			return nil, fmt.Errorf("invalid %s gateway endpoint: %w", strings.ToLower(channel.String()), err)
		}
		validated[channel] = trimmed
	}
	if len(validated) == 0 {
		return nil, fmt.Errorf("at least one gateway endpoint is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPSender{
		client:    client,
		endpoints: validated,
	}, nil
}

func (s *HTTPSender) Send(ctx context.Context, channel domain.Channel, items []BatchItem) ([]ItemResult, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("sender is not initialized")
	}
	if len(items) == 0 {
		return nil, nil
	}

	endpoint, ok := s.endpoints[channel]
	if !ok {
		return nil, &SendError{
			Message:   fmt.Sprintf("no gateway configured for channel %s", channel),
			Permanent: true,
		}
	}

	reqBody := batchRequest{
		Channel: strings.ToLower(channel.String()),
		Items:   items,
	}

	var respBody batchResponse
	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody).
		Post(endpoint)
	if err != nil {
		// Includes context cancellation: a worker shutting down mid-batch is
		// a transient condition, the next claim picks the delivery back up.
		return nil, &SendError{
			Message: "gateway request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &SendError{
			Message: "gateway returned empty response",
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &SendError{
			StatusCode: statusCode,
			Message:    gatewayErrorMessage(statusCode, strings.TrimSpace(response.String())),
			Permanent:  isPermanentHTTPStatus(statusCode),
		}
	}

	return mergeResults(items, respBody.Results), nil
}

// mergeResults maps gateway results back onto the batch. An item the gateway
// did not report on counts as a retryable failure.
func mergeResults(items []BatchItem, results []batchResult) []ItemResult {
	byDelivery := make(map[string]batchResult, len(results))
	for _, result := range results {
		byDelivery[result.DeliveryID] = result
	}

	merged := make([]ItemResult, 0, len(items))
	for _, item := range items {
		result, ok := byDelivery[item.DeliveryID]
		if !ok {
			merged = append(merged, ItemResult{
				DeliveryID: item.DeliveryID,
				Err:        "gateway returned no result for delivery",
			})
			continue
		}

		if strings.EqualFold(result.Status, "sent") {
			merged = append(merged, ItemResult{
				DeliveryID:        item.DeliveryID,
				Success:           true,
				ProviderMessageID: result.MessageID,
			})
			continue
		}

		errMsg := result.Error
		if errMsg == "" {
			errMsg = fmt.Sprintf("gateway reported status %q", result.Status)
		}
		merged = append(merged, ItemResult{
			DeliveryID: item.DeliveryID,
			Err:        errMsg,
			Permanent:  result.Permanent,
		})
	}

	return merged
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
