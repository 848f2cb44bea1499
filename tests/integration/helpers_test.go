//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulsewatch/pulsewatch/internal/testutil"
)

// orgFixture is an isolated organization with a logged-in org admin.
// Every test that touches tenant data provisions its own fixture so that
// tests never observe each other's services or incidents.
type orgFixture struct {
	OrgID      string
	OrgSlug    string
	Admin      *testutil.Client
	AdminID    string
	AdminEmail string
}

// loginSuperAdmin returns a client authenticated as the platform super admin.
func loginSuperAdmin(t *testing.T) *testutil.Client {
	t.Helper()
	client := newTestClient(t)
	client.LoginAs(t, superAdminEmail, superAdminPassword)
	return client
}

// setupOrganization creates an organization plus an org admin who can manage
// services, incidents and users.
func setupOrganization(t *testing.T) *orgFixture {
	t.Helper()

	super := loginSuperAdmin(t)

	slug := testutil.RandomSlug("org")
	resp, err := super.POST("/api/organizations", map[string]interface{}{
		"name": "Org " + slug,
		"slug": slug,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var orgResult struct {
		Data struct {
			ID   string `json:"id"`
			Slug string `json:"slug"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &orgResult)

	email := testutil.RandomEmail("admin")
	const password = "adminpass123"

	resp, err = super.POST("/api/users", map[string]interface{}{
		"email":           email,
		"name":            "Org Admin",
		"password":        password,
		"organization_id": orgResult.Data.ID,
		"is_org_admin":    true,
		"permissions": map[string]bool{
			"can_manage_services":  true,
			"can_manage_incidents": true,
			"can_manage_users":     true,
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var userResult struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &userResult)

	admin := newTestClient(t)
	admin.LoginAs(t, email, password)

	return &orgFixture{
		OrgID:      orgResult.Data.ID,
		OrgSlug:    orgResult.Data.Slug,
		Admin:      admin,
		AdminID:    userResult.Data.ID,
		AdminEmail: email,
	}
}

// createOrgUser provisions an additional user inside the fixture's
// organization and returns its id, email and password.
func createOrgUser(t *testing.T, super *testutil.Client, orgID string, isOrgAdmin bool) (id, email, password string) {
	t.Helper()

	email = testutil.RandomEmail("user")
	password = "userpass123"

	resp, err := super.POST("/api/users", map[string]interface{}{
		"email":           email,
		"name":            "Staff User",
		"password":        password,
		"organization_id": orgID,
		"is_org_admin":    isOrgAdmin,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.ID, email, password
}

type serviceResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Status         string `json:"status"`
	StatusDisplay  string `json:"status_display"`
}

// createTestService creates a service and returns its ID.
func createTestService(t *testing.T, client *testutil.Client, name string) string {
	t.Helper()

	resp, err := client.POST("/api/services", map[string]interface{}{
		"name": name,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data serviceResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.ID
}

// getServiceStatus returns the current status of a service.
func getServiceStatus(t *testing.T, client *testutil.Client, id string) string {
	t.Helper()

	resp, err := client.GET("/api/services/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data serviceResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.Status
}

type incidentResponse struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Status     string     `json:"status"`
	Severity   string     `json:"severity"`
	StartedAt  time.Time  `json:"started_at"`
	ResolvedAt *time.Time `json:"resolved_at"`
	ServiceIDs []string   `json:"service_ids"`
}

// createTestIncident opens an incident against the given services.
func createTestIncident(t *testing.T, client *testutil.Client, title, severity string, serviceIDs []string) string {
	t.Helper()

	resp, err := client.POST("/api/incidents", map[string]interface{}{
		"title":       title,
		"description": "integration test incident",
		"severity":    severity,
		"service_ids": serviceIDs,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data incidentResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.ID
}

// getIncident fetches an incident by ID.
func getIncident(t *testing.T, client *testutil.Client, id string) incidentResponse {
	t.Helper()

	resp, err := client.GET("/api/incidents/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data incidentResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// resolveIncident transitions an incident to resolved.
func resolveIncident(t *testing.T, client *testutil.Client, id string) {
	t.Helper()

	resp, err := client.PATCH("/api/incidents/"+id, map[string]interface{}{
		"status": "resolved",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

// backdateIncident moves an incident's start back in time directly in the
// database, so visibility tests don't have to sleep through real windows.
func backdateIncident(t *testing.T, incidentID string, d time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := testDB.Exec(ctx,
		fmt.Sprintf(`UPDATE incidents SET started_at = started_at - interval '%d seconds' WHERE id = $1`, int(d.Seconds())),
		incidentID,
	)
	require.NoError(t, err)
}

// listIncidents fetches the authenticated incident list.
func listIncidents(t *testing.T, client *testutil.Client) []incidentResponse {
	t.Helper()

	resp, err := client.GET("/api/incidents")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []incidentResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// getPublicIncidents fetches the public incident list for an org slug.
func getPublicIncidents(t *testing.T, client *testutil.Client, slug string) []incidentResponse {
	t.Helper()

	resp, err := client.GET("/api/incidents/public?org=" + slug)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []incidentResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// getPublicServices fetches the public service list for an org slug.
func getPublicServices(t *testing.T, client *testutil.Client, slug string) []serviceResponse {
	t.Helper()

	resp, err := client.GET("/api/services/public?org=" + slug)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []serviceResponse `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}
