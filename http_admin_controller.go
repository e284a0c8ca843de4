package accounts

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// AdminResetPasswordRequest payload. An empty password asks for a
// generated temporary one.
type AdminResetPasswordRequest struct {
	Password string `json:"password"`
}

func (c *Controller) ListAccounts(ctx *fiber.Ctx) error {
	p, err := principal(ctx)
	if err != nil {
		return err
	}

	filter, err := listFilterFromQuery(ctx)
	if err != nil {
		return err
	}

	records, total, filter, err := c.Service.Admin.List(ctx.UserContext(), p.Account, filter)
	if err != nil {
		return err
	}

	users := make([]AccountView, 0, len(records))
	for _, r := range records {
		users = append(users, r.View())
	}

	return respond(ctx, fiber.StatusOK, "", fiber.Map{
		"users": users,
		"pagination": fiber.Map{
			"page":  filter.Page,
			"limit": filter.Limit,
			"total": total,
			"pages": (total + filter.Limit - 1) / filter.Limit,
		},
	})
}

func (c *Controller) GetAccount(ctx *fiber.Ctx) error {
	p, id, err := c.adminTarget(ctx)
	if err != nil {
		return err
	}

	account, err := c.Service.Admin.Get(ctx.UserContext(), p.Account, id)
	if err != nil {
		return err
	}

	return respond(ctx, fiber.StatusOK, "", fiber.Map{"user": account.View()})
}

func (c *Controller) CreateAccount(ctx *fiber.Ctx) error {
	p, err := principal(ctx)
	if err != nil {
		return err
	}

	payload := CreateAccountMessage{}
	if err := bind(ctx, &payload); err != nil {
		return err
	}

	account, err := c.Service.Admin.Create(ctx.UserContext(), p.Account, payload)
	if err != nil {
		return err
	}

	return respond(ctx, fiber.StatusCreated, "user created", fiber.Map{"user": account.View()})
}

func (c *Controller) UpdateAccount(ctx *fiber.Ctx) error {
	p, id, err := c.adminTarget(ctx)
	if err != nil {
		return err
	}

	payload := UpdateAccountMessage{}
	if err := bind(ctx, &payload); err != nil {
		return err
	}

	account, err := c.Service.Admin.Update(ctx.UserContext(), p.Account, id, payload)
	if err != nil {
		return err
	}

	return respond(ctx, fiber.StatusOK, "user updated", fiber.Map{"user": account.View()})
}

func (c *Controller) DeleteAccount(ctx *fiber.Ctx) error {
	p, id, err := c.adminTarget(ctx)
	if err != nil {
		return err
	}

	if err := c.Service.Admin.Delete(ctx.UserContext(), p.Account, id); err != nil {
		return err
	}

	return respond(ctx, fiber.StatusOK, "user deleted", nil)
}

func (c *Controller) AdminResetPassword(ctx *fiber.Ctx) error {
	p, id, err := c.adminTarget(ctx)
	if err != nil {
		return err
	}

	payload := AdminResetPasswordRequest{}
	if err := bind(ctx, &payload); err != nil {
		return err
	}

	resp, err := c.Service.Admin.ResetPassword(ctx.UserContext(), p.Account, id, payload.Password)
	if err != nil {
		return err
	}

	out := fiber.Map{"user": resp.Account.View()}
	if resp.Generated {
		out["temporary_password"] = resp.TemporaryPassword
	}

	return respond(ctx, fiber.StatusOK, "password has been reset", out)
}

func (c *Controller) adminTarget(ctx *fiber.Ctx) (*Principal, uuid.UUID, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, uuid.Nil, err
	}

	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return nil, uuid.Nil, ErrNotFound
	}

	return p, id, nil
}

func listFilterFromQuery(ctx *fiber.Ctx) (ListFilter, error) {
	filter := ListFilter{
		Page:   ctx.QueryInt("page", 1),
		Limit:  ctx.QueryInt("limit", DefaultListLimit),
		Search: strings.TrimSpace(ctx.Query("search")),
	}

	if raw := ctx.Query("role"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			role, ok := ParseRole(strings.TrimSpace(part))
			if !ok {
				return filter, NewValidationError("validation failed", map[string]string{
					"role": "must be one of user, admin, superadmin",
				})
			}
			filter.Roles = append(filter.Roles, role)
		}
	}

	if raw := ctx.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, NewValidationError("validation failed", map[string]string{
				"active": "must be true or false",
			})
		}
		filter.Active = &active
	}

	return filter, nil
}
