package bridge

import (
	"context"
	"encoding/json"
	"fmt"
)

// Invoke calls procedure and decodes its result into T. An absent result
// yields the zero value of T.
func Invoke[T any](ctx context.Context, c *Channel, procedure string, params interface{}, opts ...CallOption) (T, error) {
	var out T
	raw, err := c.Call(ctx, procedure, params, opts...)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%s - failed to decode %s result: %w", logPrefix, procedure, err)
	}
	return out, nil
}
