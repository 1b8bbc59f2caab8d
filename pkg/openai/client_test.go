package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/D0men1c0/LauzHack/pkg/types"
)

type mockChat struct {
	reply *schema.Message
	err   error
	input []*schema.Message
	opts  *model.Options
}

func (m *mockChat) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.input = input
	m.opts = model.GetCommonOptions(&model.Options{}, opts...)
	return m.reply, m.err
}

type mockEmbedding struct {
	dims int
	err  error
}

func (m *mockEmbedding) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = make([]float64, m.dims)
		out[i][0] = float64(i)
	}
	return out, nil
}

func TestComplete(t *testing.T) {
	chat := &mockChat{reply: &schema.Message{Role: schema.Assistant, Content: `{"filtered_data": {}}`}}
	c := &Client{chat: chat}

	out, err := c.Complete(context.Background(), []types.Message{
		{Role: types.RoleSystem, Content: "rules"},
		{Role: types.RoleUser, Content: "question"},
	}, types.CompletionOptions{MaxTokens: 1000, Temperature: 0})
	require.NoError(t, err)
	assert.Equal(t, `{"filtered_data": {}}`, out)

	require.Len(t, chat.input, 2)
	assert.Equal(t, schema.System, chat.input[0].Role)
	assert.Equal(t, schema.User, chat.input[1].Role)
	require.NotNil(t, chat.opts.MaxTokens)
	assert.Equal(t, 1000, *chat.opts.MaxTokens)
	require.NotNil(t, chat.opts.Temperature)
	assert.Equal(t, float32(0), *chat.opts.Temperature)
}

func TestCompleteErrors(t *testing.T) {
	cause := errors.New("429")
	c := &Client{chat: &mockChat{err: cause}}
	_, err := c.Complete(context.Background(), nil, types.CompletionOptions{})
	assert.ErrorIs(t, err, cause)

	c = &Client{chat: &mockChat{reply: &schema.Message{}}}
	_, err = c.Complete(context.Background(), nil, types.CompletionOptions{})
	assert.Error(t, err)

	_, err = (&Client{}).Complete(context.Background(), nil, types.CompletionOptions{})
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	c := &Client{embedder: &mockEmbedding{dims: 4}}

	vectors, err := c.Encode(context.Background(), []string{"q", "car", "tree"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Len(t, vectors[2], 4)
	assert.Equal(t, 2.0, vectors[2][0])

	_, err = (&Client{}).Encode(context.Background(), []string{"q"})
	assert.Error(t, err)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{ChatModel: "gpt-4o"})
	assert.Error(t, err)
}
