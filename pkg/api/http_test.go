package api_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"marketchat/internal/testenv"
	"marketchat/pkg/api"
	"marketchat/pkg/api/auth"
	"marketchat/pkg/api/routes/common"
	"marketchat/pkg/config"
	"marketchat/pkg/models"
)

const (
	backendKey  = "bk-test"
	frontendKey = "fk-test"
	adminKey    = "ak-test"
)

type harness struct {
	env *testenv.Env
	h   fasthttp.RequestHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	env := testenv.New(t, testenv.Options{})
	set := func(k string) map[string]struct{} { return map[string]struct{}{k: {}} }
	config.SetRuntime(&config.RuntimeConfig{
		BackendKeys:  set(backendKey),
		FrontendKeys: set(frontendKey),
		AdminKeys:    set(adminKey),
		SigningKeys:  set(backendKey),
	})
	t.Cleanup(func() { config.SetRuntime(nil) })

	gate := auth.NewGate(auth.SecConfig{
		BackendKeys:  config.GetBackendKeys(),
		FrontendKeys: config.GetFrontendKeys(),
		AdminKeys:    config.GetAdminKeys(),
	})
	t.Cleanup(gate.Close)
	svc := &common.Services{
		Store:     env.Store,
		Directory: env.Dir,
		Registry:  env.Registry,
		Messages:  env.Messages,
		Reads:     env.Reads,
		Gateway:   env.Gateway,
		Hub:       env.Hub,
		Queue:     env.Queue,
		Version:   "test",
	}
	return &harness{env: env, h: api.Handler(svc, gate)}
}

type call struct {
	method string
	path   string
	key    string
	user   string
	sig    string
	body   string
}

func (h *harness) do(c call) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.SetMethod(c.method)
	ctx.Request.SetRequestURI(c.path)
	if c.key != "" {
		ctx.Request.Header.Set("Authorization", "Bearer "+c.key)
	}
	if c.user != "" {
		ctx.Request.Header.Set("X-User-ID", c.user)
		sig := c.sig
		if sig == "" {
			sig = auth.CreateHMACSignature(c.user, backendKey)
		}
		ctx.Request.Header.Set("X-User-Signature", sig)
	}
	if c.body != "" {
		ctx.Request.Header.SetContentType("application/json")
		ctx.Request.SetBodyString(c.body)
	}
	h.h(&ctx)
	return &ctx
}

// as issues a signed frontend request for user.
func (h *harness) as(user, method, path, body string) *fasthttp.RequestCtx {
	return h.do(call{method: method, path: path, key: frontendKey, user: user, body: body})
}

func (h *harness) backend(method, path, body string) *fasthttp.RequestCtx {
	return h.do(call{method: method, path: path, key: backendKey, body: body})
}

func decode(t *testing.T, ctx *fasthttp.RequestCtx, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), v), "body: %s", ctx.Response.Body())
}

func TestGateRejectsUnauthenticated(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, fasthttp.StatusOK, h.do(call{method: "GET", path: "/healthz"}).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, h.do(call{method: "GET", path: "/readyz"}).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusUnauthorized, h.do(call{method: "GET", path: "/v1/unread"}).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusUnauthorized, h.do(call{method: "GET", path: "/v1/unread", key: "nope"}).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusNoContent, h.do(call{method: "OPTIONS", path: "/v1/unread"}).Response.StatusCode())
}

func TestGateRoleRestrictions(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name string
		c    call
		want int
	}{
		{"frontend on directory", call{method: "PUT", path: "/v1/directory/users/x", key: frontendKey, user: "b1", body: `{}`}, fasthttp.StatusForbidden},
		{"frontend on sign", call{method: "POST", path: "/v1/_sign", key: frontendKey, user: "b1", body: `{"userId":"b1"}`}, fasthttp.StatusForbidden},
		{"admin outside admin", call{method: "GET", path: "/v1/unread", key: adminKey}, fasthttp.StatusForbidden},
		{"backend on admin", call{method: "GET", path: "/admin/health", key: backendKey}, fasthttp.StatusForbidden},
		{"frontend unsigned", call{method: "GET", path: "/v1/unread", key: frontendKey}, fasthttp.StatusUnauthorized},
		{"frontend bad signature", call{method: "GET", path: "/v1/unread", key: frontendKey, user: "b1", sig: "deadbeef"}, fasthttp.StatusUnauthorized},
		{"frontend assigning agent", call{method: "PUT", path: "/v1/conversations/c1/agent", key: frontendKey, user: "b1", body: `{"agent_id":"a1"}`}, fasthttp.StatusForbidden},
		{"admin health", call{method: "GET", path: "/admin/health", key: adminKey}, fasthttp.StatusOK},
		{"backend unread for user", call{method: "GET", path: "/v1/unread", key: backendKey, user: "b1"}, fasthttp.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := h.do(tc.c)
			assert.Equal(t, tc.want, ctx.Response.StatusCode(), "body: %s", ctx.Response.Body())
		})
	}
}

func TestConversationFlowOverHTTP(t *testing.T) {
	h := newHarness(t)

	ctx := h.as("b1", "POST", "/v1/conversations", `{"seller_id":"s1","product_id":"p1"}`)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(), "body: %s", ctx.Response.Body())
	var created struct {
		Conversation models.Conversation `json:"conversation"`
		Created      bool                `json:"created"`
	}
	decode(t, ctx, &created)
	assert.True(t, created.Created)
	convID := created.Conversation.ID

	ctx = h.as("b1", "POST", "/v1/conversations", `{"seller_id":"s1","product_id":"p1"}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var again struct {
		Conversation models.Conversation `json:"conversation"`
	}
	decode(t, ctx, &again)
	assert.Equal(t, convID, again.Conversation.ID)

	ctx = h.as("s1", "POST", "/v1/conversations/"+convID+"/messages",
		`{"message_type":"payment_link","body":"Deposit","payment_link":{"payment_id":"pay-77","amount":"500.00","currency":"php"}}`)
	require.Equal(t, fasthttp.StatusCreated, ctx.Response.StatusCode(), "body: %s", ctx.Response.Body())
	var sent models.Message
	decode(t, ctx, &sent)
	assert.Equal(t, "b1", sent.ReceiverID)
	require.NotNil(t, sent.PaymentLink)
	assert.Equal(t, models.Money(50000), sent.PaymentLink.Amount)
	assert.Equal(t, "PHP", sent.PaymentLink.Currency)

	ctx = h.as("b1", "GET", "/v1/unread", "")
	var unread struct {
		Unread int `json:"unread"`
	}
	decode(t, ctx, &unread)
	assert.Equal(t, 1, unread.Unread)

	ctx = h.as("b1", "GET", "/v1/conversations", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var list struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	decode(t, ctx, &list)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)
	require.NotNil(t, list.Conversations[0].LastMessage)
	assert.Equal(t, sent.ID, list.Conversations[0].LastMessage.ID)

	ctx = h.as("b1", "POST", "/v1/conversations/"+convID+"/read", "")
	var marked struct {
		Updated int `json:"updated"`
	}
	decode(t, ctx, &marked)
	assert.Equal(t, 1, marked.Updated)

	ctx = h.as("b1", "GET", "/v1/conversations/"+convID+"/messages?limit=10", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var msgs struct {
		Messages []models.Message `json:"messages"`
	}
	decode(t, ctx, &msgs)
	require.Len(t, msgs.Messages, 1)
	assert.True(t, msgs.Messages[0].Read)

	ctx = h.backend("POST", "/v1/payments/pay-77/status", `{"status":"paid"}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "body: %s", ctx.Response.Body())
	var paid models.Message
	decode(t, ctx, &paid)
	assert.Equal(t, models.PaymentPaid, paid.PaymentLink.Status)
	assert.NotNil(t, paid.PaymentLink.PaidAt)

	ctx = h.backend("POST", "/v1/payments/pay-77/status", `{"status":"pending"}`)
	assert.Equal(t, fasthttp.StatusConflict, ctx.Response.StatusCode())
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t)
	conv := h.env.Conversation(t, "b1", "s1", "")

	ctx := h.as("b1", "POST", "/v1/conversations/"+conv.ID+"/messages", `{"message_type":"fax","body":"hi"}`)
	require.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	decode(t, ctx, &body)
	assert.Equal(t, "message_type", body.Field)

	ctx = h.as("b1", "POST", "/v1/conversations/"+conv.ID+"/messages", "")
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())

	ctx = h.as("b2", "GET", "/v1/conversations/"+conv.ID, "")
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	ctx = h.as("b2", "POST", "/v1/conversations/"+conv.ID+"/messages", `{"message_type":"text","body":"hello?"}`)
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	ctx = h.as("b1", "GET", "/v1/conversations/missing-conv", "")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = h.as("b1", "POST", "/v1/conversations", `{"seller_id":"ghost"}`)
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = h.as("b1", "DELETE", "/v1/conversations", "")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
}

func TestBackendDirectoryAndAssignment(t *testing.T) {
	h := newHarness(t)

	ctx := h.backend("POST", "/v1/_sign", `{"userId":"a5"}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var signed struct {
		Signature string `json:"signature"`
	}
	decode(t, ctx, &signed)
	assert.Equal(t, auth.CreateHMACSignature("a5", backendKey), signed.Signature)

	require.Equal(t, fasthttp.StatusOK, h.backend("PUT", "/v1/directory/users/a5",
		`{"name":"New Agent","email":"new@co1.example","role":"agent"}`).Response.StatusCode())
	require.Equal(t, fasthttp.StatusOK, h.backend("PUT", "/v1/directory/agents/a5",
		`{"company_id":"co1","is_active":true}`).Response.StatusCode())
	assert.Equal(t, fasthttp.StatusBadRequest, h.backend("PUT", "/v1/directory/users/x9",
		`{"name":"X","role":"wizard"}`).Response.StatusCode())

	conv := h.env.Conversation(t, "b1", "s1", "p1")
	channel := "/v1/channels/conversation." + conv.ID + "/authorize"
	assert.Equal(t, fasthttp.StatusOK, h.as("a5", "GET", channel, "").Response.StatusCode())

	ctx = h.backend("PUT", "/v1/conversations/"+conv.ID+"/agent", `{"agent_id":"a1"}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "body: %s", ctx.Response.Body())
	assert.Equal(t, fasthttp.StatusForbidden, h.as("a5", "GET", channel, "").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, h.as("a1", "GET", channel, "").Response.StatusCode())

	ctx = h.backend("GET", "/v1/directory/agents/a1/conversations", "")
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	var assigned struct {
		AgentID       string                `json:"agent_id"`
		Conversations []models.Conversation `json:"conversations"`
	}
	decode(t, ctx, &assigned)
	require.Len(t, assigned.Conversations, 1)
	assert.Equal(t, conv.ID, assigned.Conversations[0].ID)
	assert.Equal(t, fasthttp.StatusForbidden, h.as("a1", "GET", "/v1/directory/agents/a1/conversations", "").Response.StatusCode())

	ctx = h.backend("PUT", "/v1/conversations/"+conv.ID+"/agent", `{"agent_id":null}`)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, h.as("a5", "GET", channel, "").Response.StatusCode())

	assert.Equal(t, fasthttp.StatusOK, h.as("b1", "GET", "/v1/channels/user.b1/authorize", "").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusForbidden, h.as("b1", "GET", "/v1/channels/user.b2/authorize", "").Response.StatusCode())

	require.Equal(t, fasthttp.StatusOK, h.backend("POST", "/v1/conversations/"+conv.ID+"/close", "").Response.StatusCode())
	ctx = h.as("b1", "POST", "/v1/conversations/"+conv.ID+"/messages", `{"message_type":"text","body":"still there?"}`)
	assert.Equal(t, fasthttp.StatusForbidden, ctx.Response.StatusCode())

	assert.Equal(t, fasthttp.StatusNoContent, h.backend("DELETE", "/v1/directory/products/p1", "").Response.StatusCode())
}

func TestAdminStats(t *testing.T) {
	h := newHarness(t)
	conv := h.env.Conversation(t, "b1", "s1", "")
	h.env.Text(t, conv.ID, "b1", "hello")

	ctx := h.do(call{method: "GET", path: "/admin/stats", key: adminKey})
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode(), "body: %s", ctx.Response.Body())
	var stats struct {
		Outbox struct {
			Pending  int `json:"pending"`
			Capacity int `json:"capacity"`
		} `json:"outbox"`
	}
	decode(t, ctx, &stats)
	assert.Equal(t, 1, stats.Outbox.Pending)
	assert.Equal(t, h.env.Queue.Cap(), stats.Outbox.Capacity)

	ctx = h.do(call{method: "POST", path: "/admin/jobs/sweep", key: adminKey})
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}
