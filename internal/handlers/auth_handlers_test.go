package handlers

import (
	"net/http"
	"testing"

	"github.com/cloudnest/backend/internal/models"
	"github.com/gofiber/fiber/v2"
)

func TestRegister(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("creates user and returns token", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
			"email":       "Alice@Example.com",
			"password":    "supersecret",
			"displayName": "Alice",
		}, nil)
		assertStatus(t, resp, fiber.StatusCreated)

		body := decodeJSONMap(t, resp)
		data := dataMap(t, body)
		if data["token"] == "" {
			t.Fatal("expected token in response")
		}
		user, ok := data["user"].(map[string]any)
		if !ok {
			t.Fatalf("expected user object, got %+v", data)
		}
		if user["email"] != "alice@example.com" {
			t.Fatalf("expected normalized email, got %v", user["email"])
		}
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
			"email":    "alice@example.com",
			"password": "anothersecret",
		}, nil)
		assertStatus(t, resp, fiber.StatusConflict)
	})

	t.Run("rejects short password", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/register", map[string]any{
			"email":    "bob@example.com",
			"password": "short",
		}, nil)
		assertStatus(t, resp, fiber.StatusBadRequest)
	})
}

func TestLogin(t *testing.T) {
	env := setupTestEnv(t)
	createTestUser(t, env.db, "alice@example.com", "supersecret", models.UserRoleUser)

	t.Run("valid credentials", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "alice@example.com",
			"password": "supersecret",
		}, nil)
		assertStatus(t, resp, fiber.StatusOK)

		data := dataMap(t, decodeJSONMap(t, resp))
		if token, _ := data["token"].(string); token == "" {
			t.Fatal("expected token in response")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "alice@example.com",
			"password": "wrong-password",
		}, nil)
		assertStatus(t, resp, fiber.StatusUnauthorized)
		assertEnvelopeError(t, decodeJSONMap(t, resp), "invalid credentials")
	})

	t.Run("unknown email", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodPost, "/api/auth/login", map[string]any{
			"email":    "nobody@example.com",
			"password": "supersecret",
		}, nil)
		assertStatus(t, resp, fiber.StatusUnauthorized)
	})
}

func TestMe(t *testing.T) {
	env := setupTestEnv(t)
	user, token := createTestUser(t, env.db, "alice@example.com", "supersecret", models.UserRoleUser)

	t.Run("returns current user", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, authHeaders(token))
		assertStatus(t, resp, fiber.StatusOK)

		data := dataMap(t, decodeJSONMap(t, resp))
		if data["id"] != user.ID.String() {
			t.Fatalf("expected user id %s, got %v", user.ID, data["id"])
		}
		if _, exposed := data["passwordHash"]; exposed {
			t.Fatal("password hash must not be serialized")
		}
	})

	t.Run("requires token", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, nil)
		assertStatus(t, resp, fiber.StatusUnauthorized)
	})

	t.Run("rejects garbage token", func(t *testing.T) {
		resp := performJSONRequest(t, env.app, http.MethodGet, "/api/auth/me", nil, authHeaders("not-a-jwt"))
		assertStatus(t, resp, fiber.StatusUnauthorized)
	})
}

func TestSSOProviders(t *testing.T) {
	env := setupTestEnv(t)

	resp := performJSONRequest(t, env.app, http.MethodGet, "/api/auth/sso/providers", nil, nil)
	assertStatus(t, resp, fiber.StatusOK)

	if providers := dataList(t, decodeJSONMap(t, resp)); len(providers) != 0 {
		t.Fatalf("expected no providers with SSO disabled, got %d", len(providers))
	}
}

func TestSSORedirectDisabledProvider(t *testing.T) {
	env := setupTestEnv(t)

	resp := performJSONRequest(t, env.app, http.MethodGet, "/api/auth/sso/oauth/google", nil, nil)
	assertStatus(t, resp, fiber.StatusBadRequest)
}
