package s3blob

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/cryptoquant/internal/domain"
)

func TestKeyPrefix(t *testing.T) {
	bare := &Client{bucket: "b"}
	assert.Equal(t, "orders/x.jsonl", bare.key("orders/x.jsonl"))
	assert.Equal(t, "orders/x.jsonl", bare.relative("orders/x.jsonl"))

	ns := &Client{bucket: "b", prefix: "testnet"}
	assert.Equal(t, "testnet/orders/x.jsonl", ns.key("orders/x.jsonl"))
	assert.Equal(t, "testnet/orders/x.jsonl", ns.key("/orders/x.jsonl"))
	assert.Equal(t, "testnet/", ns.key(""))
	assert.Equal(t, "orders/x.jsonl", ns.relative("testnet/orders/x.jsonl"))
}

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(&types.NoSuchKey{}), domain.ErrNotFound)
	assert.ErrorIs(t, classify(fmt.Errorf("head: %w", &types.NotFound{})), domain.ErrNotFound)
	assert.ErrorIs(t, classify(statusErr(404)), domain.ErrNotFound)

	other := errors.New("access denied")
	assert.Equal(t, other, classify(other))
	assert.NotErrorIs(t, classify(statusErr(403)), domain.ErrNotFound)
}
