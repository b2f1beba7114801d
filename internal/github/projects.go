package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
)

// Projects v2 has no REST surface; board and draft-item operations go
// through the GraphQL endpoint with the same auth and retry behavior.

// graphQL posts one GraphQL request and decodes the data envelope into out.
func (c *Client) graphQL(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	reqBody := map[string]interface{}{
		"query":     query,
		"variables": variables,
	}
	respBody, err := c.doRequest(ctx, http.MethodPost, c.BaseURL+"/graphql", reqBody)
	if err != nil {
		return err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse GraphQL response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("GraphQL error: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to parse GraphQL data: %w", err)
		}
	}
	return nil
}

// projectURLPattern matches org- and user-owned board URLs.
var projectURLPattern = regexp.MustCompile(`github\.com/(orgs|users)/([^/]+)/projects/(\d+)`)

// ProjectByURL resolves a board URL to its node ID and metadata.
func (c *Client) ProjectByURL(ctx context.Context, boardURL string) (*Project, error) {
	m := projectURLPattern.FindStringSubmatch(boardURL)
	if m == nil {
		return nil, fmt.Errorf("unrecognized project board URL: %q", boardURL)
	}
	owner := m[2]
	number, _ := strconv.Atoi(m[3])

	ownerField := "organization"
	if m[1] == "users" {
		ownerField = "user"
	}
	query := fmt.Sprintf(`query($login: String!, $number: Int!) {
		%s(login: $login) {
			projectV2(number: $number) { id number title url }
		}
	}`, ownerField)

	var data map[string]struct {
		ProjectV2 *Project `json:"projectV2"`
	}
	err := c.graphQL(ctx, query, map[string]interface{}{"login": owner, "number": number}, &data)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project %q: %w", boardURL, err)
	}
	owner2 := data[ownerField]
	if owner2.ProjectV2 == nil {
		return nil, fmt.Errorf("project board not found: %q", boardURL)
	}
	return owner2.ProjectV2, nil
}

// AddDraftItem creates a draft entry on a board and returns the draft
// issue's node ID.
func (c *Client) AddDraftItem(ctx context.Context, projectID, title, body string) (*DraftItem, error) {
	const mutation = `mutation($projectId: ID!, $title: String!, $body: String) {
		addProjectV2DraftIssue(input: {projectId: $projectId, title: $title, body: $body}) {
			projectItem { content { ... on DraftIssue { id } } }
		}
	}`

	var data struct {
		AddProjectV2DraftIssue struct {
			ProjectItem struct {
				Content DraftItem `json:"content"`
			} `json:"projectItem"`
		} `json:"addProjectV2DraftIssue"`
	}
	err := c.graphQL(ctx, mutation, map[string]interface{}{
		"projectId": projectID,
		"title":     title,
		"body":      body,
	}, &data)
	if err != nil {
		return nil, fmt.Errorf("failed to add draft item: %w", err)
	}
	draft := data.AddProjectV2DraftIssue.ProjectItem.Content
	if draft.ID == "" {
		return nil, fmt.Errorf("draft item created but no ID returned")
	}
	return &draft, nil
}

// UpdateDraftItem rewrites a draft entry's body in place.
func (c *Client) UpdateDraftItem(ctx context.Context, draftID, body string) error {
	const mutation = `mutation($draftId: ID!, $body: String) {
		updateProjectV2DraftIssue(input: {draftIssueId: $draftId, body: $body}) {
			draftIssue { id }
		}
	}`
	err := c.graphQL(ctx, mutation, map[string]interface{}{"draftId": draftID, "body": body}, nil)
	if err != nil {
		return fmt.Errorf("failed to update draft item: %w", err)
	}
	return nil
}
