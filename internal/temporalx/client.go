package temporalx

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/agritrust/agritrust-backend/internal/logger"
)

const DefaultTaskQueue = "agritrust-anchor"

// NewClient dials Temporal when TEMPORAL_ADDRESS is configured and returns
// (nil, nil) otherwise; callers treat a nil client as "durable anchoring
// disabled" and fall back to the in-process worker.
func NewClient(log *logger.Logger) (temporalsdkclient.Client, error) {
	address := strings.TrimSpace(os.Getenv("TEMPORAL_ADDRESS"))
	if address == "" {
		if log != nil {
			log.Warn("TEMPORAL_ADDRESS not set; Temporal disabled")
		}
		return nil, nil
	}

	namespace := strings.TrimSpace(os.Getenv("TEMPORAL_NAMESPACE"))
	if namespace == "" {
		namespace = "default"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := temporalsdkclient.DialContext(ctx, temporalsdkclient.Options{
		HostPort:  address,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal dial (address=%s namespace=%s): %w", address, namespace, err)
	}
	if log != nil {
		log.Info("Connected to Temporal", "address", address, "namespace", namespace)
	}
	return c, nil
}

func TaskQueue() string {
	q := strings.TrimSpace(os.Getenv("TEMPORAL_TASK_QUEUE"))
	if q == "" {
		return DefaultTaskQueue
	}
	return q
}
