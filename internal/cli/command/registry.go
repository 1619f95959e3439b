package command

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

const apiPrefix = "/api/v1/vjudge"

// Registry returns the supported CLI commands keyed by "<service> <action>".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "vjudge",
			Action:       "status",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/status",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "live", Query: true},
				{Name: "scope", Query: true},
			},
		},
		{
			Service:      "vjudge",
			Action:       "accounts",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/accounts",
			RequiresAuth: true,
		},
		{
			Service:      "vjudge",
			Action:       "resync",
			Method:       http.MethodPost,
			PathTemplate: apiPrefix + "/resync",
			RequiresAuth: true,
		},
		{
			Service:      "record",
			Action:       "get",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/records/:id",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"rid"}, Prompt: "Record ID", Required: true},
				{Name: "events", Query: true},
			},
		},
		{
			Service:      "record",
			Action:       "watch",
			Method:       http.MethodGet,
			PathTemplate: apiPrefix + "/records/:id/stream",
			RequiresAuth: true,
			Stream:       true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"rid"}, Prompt: "Record ID", Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// Keys lists the registry keys in order.
func Keys(commands map[string]Command) []string {
	keys := make([]string, 0, len(commands))
	for key := range commands {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	query, err := buildQuery(cmd.Fields, params)
	if err != nil {
		return RequestSpec{}, err
	}
	if query != "" {
		path += "?" + query
	}
	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	placeholder := ":id"
	if strings.Contains(path, placeholder) {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, placeholder, url.PathEscape(value))
	}
	return path, nil
}

func buildQuery(fields []Field, params Params) (string, error) {
	values := url.Values{}
	for _, field := range fields {
		if !field.Query || !params.Has(field.Name) {
			continue
		}
		value := strings.TrimSpace(params.Get(field.Name))
		switch field.Name {
		case "live", "events":
			if _, err := strconv.ParseBool(value); err != nil {
				return "", fmt.Errorf("invalid %s: %q is not a boolean", field.Name, value)
			}
		case "scope":
			if value != "local" && value != "cluster" {
				return "", fmt.Errorf("invalid scope: %q (want local or cluster)", value)
			}
		}
		values.Set(field.Name, value)
	}
	return values.Encode(), nil
}
