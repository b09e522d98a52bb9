package http

import (
	"errors"
	stdhttp "net/http"

	"github.com/labstack/echo/v4"
	"servicegate/internal/application"
	"servicegate/internal/domain"
)

func handleError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidScope):
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(stdhttp.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrPermissionDeny):
		return c.JSON(stdhttp.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrProvisioningFailed):
		// Fully rolled back; the caller may retry.
		return c.JSON(stdhttp.StatusInternalServerError, map[string]string{"error": domain.ErrProvisioningFailed.Error()})
	default:
		return c.JSON(stdhttp.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func callerID(c echo.Context) string {
	if uid, ok := c.Get("user_id").(string); ok {
		return uid
	}
	return ""
}

func callerEmail(c echo.Context) string {
	if email, ok := c.Get("user_email").(string); ok {
		return email
	}
	return ""
}

type ResourcesHandler struct {
	service *application.AuthorizationService
}

func NewResourcesHandler(service *application.AuthorizationService) *ResourcesHandler {
	return &ResourcesHandler{service: service}
}

func (h *ResourcesHandler) Create(c echo.Context) error {
	var req struct {
		OwnerID string   `json:"owner_id"`
		URI     string   `json:"uri"`
		Scopes  []string `json:"scopes"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if req.OwnerID == "" {
		req.OwnerID = callerID(c)
	}
	res, err := h.service.RegisterResource(c.Request().Context(), req.OwnerID, req.URI, req.Scopes)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, res)
}

func (h *ResourcesHandler) Get(c echo.Context) error {
	res, err := h.service.GetResource(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, res)
}

func (h *ResourcesHandler) Delete(c echo.Context) error {
	if err := h.service.DeleteResource(c.Request().Context(), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusOK)
}

type PermissionsHandler struct {
	service *application.AuthorizationService
}

func NewPermissionsHandler(service *application.AuthorizationService) *PermissionsHandler {
	return &PermissionsHandler{service: service}
}

func (h *PermissionsHandler) Grant(c echo.Context) error {
	var req struct {
		PrincipalID string   `json:"principal_id"`
		Scopes      []string `json:"scopes"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	perm, err := h.service.Grant(c.Request().Context(), c.Param("id"), req.PrincipalID, req.Scopes, callerID(c))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, perm)
}

func (h *PermissionsHandler) Revoke(c echo.Context) error {
	if err := h.service.Revoke(c.Request().Context(), c.Param("id"), c.Param("principal_id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusOK)
}

func (h *PermissionsHandler) Check(c echo.Context) error {
	allowed, err := h.service.Check(c.Request().Context(), c.Param("id"), c.Param("principal_id"), c.QueryParam("scope"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, map[string]bool{"allowed": allowed})
}

type SharesHandler struct {
	shares      *application.ShareService
	provisioner *application.GuestProvisioner
}

func NewSharesHandler(shares *application.ShareService, provisioner *application.GuestProvisioner) *SharesHandler {
	return &SharesHandler{shares: shares, provisioner: provisioner}
}

func (h *SharesHandler) Create(c echo.Context) error {
	var req struct {
		RecipientEmail string   `json:"recipient_email"`
		Scopes         []string `json:"scopes"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	pending, err := h.shares.Share(c.Request().Context(), c.Param("id"), req.RecipientEmail, req.Scopes, callerID(c))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, map[string]bool{"pending": pending})
}

// Resolve is the first-access hook for the consuming application layer.
// The email defaults to the authenticated caller's own.
func (h *SharesHandler) Resolve(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if req.Email == "" {
		req.Email = callerEmail(c)
	}
	principal, resolved, err := h.provisioner.OnFirstAccess(c.Request().Context(), c.Param("id"), req.Email)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, map[string]any{"resolved": resolved, "principal": principal})
}

type PairingHandler struct {
	service *application.PairingService
}

func NewPairingHandler(service *application.PairingService) *PairingHandler {
	return &PairingHandler{service: service}
}

func (h *PairingHandler) Create(c echo.Context) error {
	payload, err := h.service.CreatePayload(callerID(c), callerEmail(c))
	if err != nil {
		return handleError(c, err)
	}
	encoded, err := application.EncodePayload(payload)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, map[string]string{"payload": encoded})
}
