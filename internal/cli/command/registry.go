package command

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "submit",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			Multipart:    true,
			Fields: []Field{
				{Name: "user_id", Prompt: "user_id", Type: FieldInt64, Required: true, Default: "user_id"},
				{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "lang", Aliases: []string{"language"}, Prompt: "lang", Type: FieldString, Required: true},
				{Name: "version", Prompt: "version", Type: FieldString},
				{Name: "source", Aliases: []string{"file", "source_file"}, Prompt: "source file", Type: FieldFile, Required: true},
				{Name: "idempotency_key", Prompt: "idempotency_key", Type: FieldString},
			},
		},
		{
			Service:      "submit",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true, Default: "last_submission"},
			},
		},
		{
			Service:      "submit",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/status",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true, Default: "last_submission"},
			},
		},
		{
			Service:      "submit",
			Action:       "list",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions",
			Query:        []string{"page", "page_size"},
			Fields: []Field{
				{Name: "page", Prompt: "page", Type: FieldInt64},
				{Name: "page_size", Aliases: []string{"size"}, Prompt: "page_size", Type: FieldInt64},
			},
		},
		{
			Service:      "user",
			Action:       "submissions",
			Method:       "GET",
			PathTemplate: "/api/v1/users/:user_id/submissions",
			Fields: []Field{
				{Name: "user_id", Prompt: "user_id", Type: FieldInt64, Required: true, Default: "user_id"},
			},
		},
		{
			Service:      "user",
			Action:       "attempts",
			Method:       "GET",
			PathTemplate: "/api/v1/users/:user_id/problems/:problem_id/attempts",
			Fields: []Field{
				{Name: "user_id", Prompt: "user_id", Type: FieldInt64, Required: true, Default: "user_id"},
				{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldInt64, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		result[cmd.Key()] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	if err := validate(cmd, params); err != nil {
		return RequestSpec{}, err
	}
	path, err := buildPath(cmd, params)
	if err != nil {
		return RequestSpec{}, err
	}

	spec := RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
	}
	if key := params.Get("idempotency_key"); key != "" {
		spec.Headers["Idempotency-Key"] = key
	}
	if cmd.Multipart {
		body, contentType, err := buildMultipart(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		spec.Body = body
		spec.Headers["Content-Type"] = contentType
	}
	return spec, nil
}

func validate(cmd Command, params Params) error {
	for _, field := range cmd.Fields {
		value := params.Get(field.Name)
		if value == "" {
			if field.Required {
				return fmt.Errorf("missing parameter: %s", field.Name)
			}
			continue
		}
		if field.Type == FieldInt64 {
			if _, err := ParseInt64(value); err != nil {
				return fmt.Errorf("invalid %s: %w", field.Name, err)
			}
		}
	}
	return nil
}

func buildPath(cmd Command, params Params) (string, error) {
	path := cmd.PathTemplate
	for _, segment := range strings.Split(cmd.PathTemplate, "/") {
		if !strings.HasPrefix(segment, ":") {
			continue
		}
		key := strings.TrimPrefix(segment, ":")
		value := params.Get(key)
		if value == "" {
			return "", fmt.Errorf("missing path parameter: %s", key)
		}
		path = strings.Replace(path, segment, url.PathEscape(value), 1)
	}

	query := url.Values{}
	for _, key := range cmd.Query {
		if value := params.Get(key); value != "" {
			query.Set(key, value)
		}
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return path, nil
}

// buildMultipart writes every non-file field as a form value and each file
// field as a form file named after the field.
func buildMultipart(cmd Command, params Params) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, field := range cmd.Fields {
		value := params.Get(field.Name)
		if value == "" || field.Name == "idempotency_key" {
			continue
		}
		if field.Type != FieldFile {
			if err := w.WriteField(field.Name, value); err != nil {
				return nil, "", fmt.Errorf("write form field failed: %w", err)
			}
			continue
		}
		data, err := ReadFile(value)
		if err != nil {
			return nil, "", err
		}
		part, err := w.CreateFormFile(field.Name, filepath.Base(value))
		if err != nil {
			return nil, "", fmt.Errorf("create form file failed: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", fmt.Errorf("write form file failed: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer failed: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
