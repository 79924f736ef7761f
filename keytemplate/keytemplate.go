// Package keytemplate evaluates destination object key templates.
package keytemplate

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type Model struct {
	envRepo env.Repository
	logger  log.Logger
	now     func() time.Time
}

type templateInventory struct {
	SourceName string
	SourceHost string
	Date       string
	Timestamp  string
}

func NewModel(envRepo env.Repository, logger log.Logger) Model {
	return Model{
		envRepo: envRepo,
		logger:  logger,
		now:     time.Now,
	}
}

// IsTemplate reports whether key contains template actions.
func IsTemplate(key string) bool {
	return strings.Contains(key, "{{")
}

// Evaluate returns the final object key from a key template and the source URL
func (m Model) Evaluate(key string, sourceURL string) (string, error) {
	funcMap := template.FuncMap{
		"getenv": m.getEnvVar,
	}

	tmpl, err := template.New("").Funcs(funcMap).Parse(key)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	inventory, err := m.inventory(sourceURL)
	if err != nil {
		return "", err
	}
	m.validateInventory(inventory)

	resultBuffer := bytes.Buffer{}
	if err := tmpl.Execute(&resultBuffer, inventory); err != nil {
		return "", err
	}

	result := strings.TrimPrefix(resultBuffer.String(), "/")
	if result == "" {
		return "", fmt.Errorf("template %q evaluated to an empty key", key)
	}
	return result, nil
}

func (m Model) inventory(sourceURL string) (templateInventory, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return templateInventory{}, fmt.Errorf("parse source url: %w", err)
	}

	name := path.Base(parsed.Path)
	if name == "." || name == "/" {
		name = ""
	}

	now := m.now().UTC()
	return templateInventory{
		SourceName: name,
		SourceHost: parsed.Hostname(),
		Date:       now.Format("2006-01-02"),
		Timestamp:  strconv.FormatInt(now.Unix(), 10),
	}, nil
}

func (m Model) getEnvVar(key string) string {
	return m.envRepo.Get(key)
}

func (m Model) validateInventory(inventory templateInventory) {
	m.warnIfEmpty("SourceName", inventory.SourceName)
	m.warnIfEmpty("SourceHost", inventory.SourceHost)
}

func (m Model) warnIfEmpty(name, value string) {
	if value == "" {
		m.logger.Warnf("Template variable .%s is not defined", name)
	}
}
