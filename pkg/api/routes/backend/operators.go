package backend

import (
	"github.com/valyala/fasthttp"

	"marketchat/pkg/api/auth"
	"marketchat/pkg/api/router"
	"marketchat/pkg/api/routes/common"
	"marketchat/pkg/api/utils"
	"marketchat/pkg/config"
	"marketchat/pkg/logger"
	"marketchat/pkg/models"
)

// Handlers serves service-to-service routes. Every handler requires a
// backend key.
type Handlers struct {
	svc *common.Services
}

func New(svc *common.Services) *Handlers {
	return &Handlers{svc: svc}
}

// Sign returns the HMAC signature a frontend client presents alongside
// X-User-ID.
func (h *Handlers) Sign(ctx *fasthttp.RequestCtx) {
	if !common.RequireRole(ctx, auth.RoleBackend) {
		return
	}
	var body signRequest
	if err := router.DecodeBody(ctx, &body); err != nil {
		router.WriteError(ctx, err)
		return
	}
	key := signingKey(utils.ExtractAPIKey(ctx))
	if key == "" {
		logger.Error("no_signing_keys_configured")
		router.WriteJSONError(ctx, fasthttp.StatusInternalServerError, "server misconfigured: no signing secrets available")
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, signResponse{
		UserID:    body.UserID,
		Signature: auth.CreateHMACSignature(body.UserID, key),
	})
}

// signingKey prefers the key the caller authenticated with.
func signingKey(callerKey string) string {
	keys := config.GetSigningKeys()
	if _, ok := keys[callerKey]; ok {
		return callerKey
	}
	for k := range keys {
		return k
	}
	return ""
}

func (h *Handlers) PutUser(ctx *fasthttp.RequestCtx) {
	if !common.RequireRole(ctx, auth.RoleBackend) {
		return
	}
	req := common.SetupServiceHandler(ctx, "directory_put_user")
	defer req.Trace.Finish()

	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	var body userRequest
	if err := router.DecodeBody(ctx, &body); err != nil {
		router.WriteError(ctx, err)
		return
	}
	u := &models.User{ID: id, Name: body.Name, Email: body.Email, Role: body.Role, CompanyID: body.CompanyID}
	if err := h.svc.Directory.PutUser(req.Ctx, u); err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, u)
}

func (h *Handlers) PutCompany(ctx *fasthttp.RequestCtx) {
	if !common.RequireRole(ctx, auth.RoleBackend) {
		return
	}
	req := common.SetupServiceHandler(ctx, "directory_put_company")
	defer req.Trace.Finish()

	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	var body companyRequest
	if err := router.DecodeBody(ctx, &body); err != nil {
		router.WriteError(ctx, err)
		return
	}
	c := &models.Company{ID: id, Name: body.Name, OwnerID: body.OwnerID}
	if err := h.svc.Directory.PutCompany(req.Ctx, c); err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, c)
}

// PutAgent links or unlinks an agent. Deactivation takes effect on the
// next authorization check.
func (h *Handlers) PutAgent(ctx *fasthttp.RequestCtx) {
	if !common.RequireRole(ctx, auth.RoleBackend) {
		return
	}
	req := common.SetupServiceHandler(ctx, "directory_put_agent")
	defer req.Trace.Finish()

	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	var body agentRequest
	if err := router.DecodeBody(ctx, &body); err != nil {
		router.WriteError(ctx, err)
		return
	}
	l := &models.AgentLink{AgentID: id, CompanyID: body.CompanyID, IsActive: body.IsActive}
	if err := h.svc.Directory.PutAgentLink(req.Ctx, l); err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, l)
}

func (h *Handlers) PutProduct(ctx *fasthttp.RequestCtx) {
	if !common.RequireRole(ctx, auth.RoleBackend) {
		return
	}
	req := common.SetupServiceHandler(ctx, "directory_put_product")
	defer req.Trace.Finish()

	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	var body productRequest
	if err := router.DecodeBody(ctx, &body); err != nil {
		router.WriteError(ctx, err)
		return
	}
	p := &models.ProductSnapshot{
		ID:          id,
		Name:        body.Name,
		HasImage:    body.HasImage,
		Price:       body.Price,
		Unit:        body.Unit,
		CompanyName: body.CompanyName,
	}
	if err := h.svc.Directory.PutProduct(req.Ctx, p); err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, p)
}

func (h *Handlers) DeleteProduct(ctx *fasthttp.RequestCtx) {
	if !common.RequireRole(ctx, auth.RoleBackend) {
		return
	}
	req := common.SetupServiceHandler(ctx, "directory_delete_product")
	defer req.Trace.Finish()

	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	if err := h.svc.Directory.DeleteProduct(req.Ctx, id); err != nil {
		router.WriteError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *Handlers) AssignAgent(ctx *fasthttp.RequestCtx) {
	if !common.RequireRole(ctx, auth.RoleBackend) {
		return
	}
	req := common.SetupServiceHandler(ctx, "assign_agent")
	defer req.Trace.Finish()

	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	var body assignAgentRequest
	if err := router.DecodeBody(ctx, &body); err != nil {
		router.WriteError(ctx, err)
		return
	}
	conv, err := h.svc.Registry.AssignAgent(req.Ctx, id, body.AgentID)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, conversationResponse{Conversation: conv})
}

// AgentConversations lists the conversations assigned to an agent.
func (h *Handlers) AgentConversations(ctx *fasthttp.RequestCtx) {
	if !common.RequireRole(ctx, auth.RoleBackend) {
		return
	}
	req := common.SetupServiceHandler(ctx, "agent_conversations")
	defer req.Trace.Finish()

	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	convs, err := h.svc.Registry.AssignedConversations(req.Ctx, id)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	if convs == nil {
		convs = []*models.Conversation{}
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, agentConversationsResponse{AgentID: id, Conversations: convs})
}

func (h *Handlers) CloseConversation(ctx *fasthttp.RequestCtx) {
	if !common.RequireRole(ctx, auth.RoleBackend) {
		return
	}
	req := common.SetupServiceHandler(ctx, "close_conversation")
	defer req.Trace.Finish()

	id, ok := router.ValidatePathParam(ctx, "id")
	if !ok {
		return
	}
	conv, err := h.svc.Registry.Close(req.Ctx, id)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, conversationResponse{Conversation: conv})
}

// PaymentStatus applies a status snapshot from the payment integration.
func (h *Handlers) PaymentStatus(ctx *fasthttp.RequestCtx) {
	if !common.RequireRole(ctx, auth.RoleBackend) {
		return
	}
	req := common.SetupServiceHandler(ctx, "payment_status")
	defer req.Trace.Finish()

	paymentID, ok := router.ValidatePathParam(ctx, "paymentId")
	if !ok {
		return
	}
	var body paymentStatusRequest
	if err := router.DecodeBody(ctx, &body); err != nil {
		router.WriteError(ctx, err)
		return
	}
	msg, err := h.svc.Messages.UpdatePaymentStatus(req.Ctx, paymentID, body.Status, body.PaidAt)
	if err != nil {
		router.WriteError(ctx, err)
		return
	}
	router.WriteJSON(ctx, fasthttp.StatusOK, msg)
}
