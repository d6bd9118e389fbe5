package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jkaninda/ideaflow/internal/domain"
)

// SeedFile is the YAML layout accepted by Seed.
type SeedFile struct {
	Tools      []SeedTool      `yaml:"tools"`
	AgentTypes []SeedAgentType `yaml:"agent_types"`
}

type SeedTool struct {
	Name             string         `yaml:"name"`
	Description      string         `yaml:"description"`
	Category         string         `yaml:"category"`
	Source           string         `yaml:"source"`
	Endpoint         string         `yaml:"endpoint"`
	Parameters       map[string]any `yaml:"parameters"`
	Enabled          *bool          `yaml:"enabled"`
	Dangerous        bool           `yaml:"dangerous"`
	RequiresApproval bool           `yaml:"requires_approval"`
	Tags             []string       `yaml:"tags"`
}

type SeedAgentType struct {
	Name         string           `yaml:"name"`
	Label        string           `yaml:"label"`
	Description  string           `yaml:"description"`
	Avatar       string           `yaml:"avatar"`
	Model        string           `yaml:"model"`
	SystemPrompt string           `yaml:"system_prompt"`
	Temperature  float64          `yaml:"temperature"`
	Streaming    *bool            `yaml:"streaming"`
	ContextLimit int              `yaml:"context_limit"`
	MaxTokens    int              `yaml:"max_tokens"`
	Enabled      *bool            `yaml:"enabled"`
	Default      bool             `yaml:"default"`
	Tools        []SeedAssignment `yaml:"tools"`
}

type SeedAssignment struct {
	Tool             string `yaml:"tool"`
	Order            int    `yaml:"order"`
	Enabled          *bool  `yaml:"enabled"`
	AllowUse         *bool  `yaml:"allow_use"`
	RequiresApproval *bool  `yaml:"requires_approval"`
	UsageLimit       *int   `yaml:"usage_limit"`

	domain.ParameterConstraints `yaml:",inline"`
}

// SeedResult counts what a seed run wrote.
type SeedResult struct {
	Tools       int
	AgentTypes  int
	Assignments int
}

// LoadSeedFile parses a YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return &f, nil
}

// Seed upserts everything in f. Tools go first so assignments can refer to them.
func (s *Service) Seed(ctx context.Context, f *SeedFile) (SeedResult, error) {
	var res SeedResult
	for _, st := range f.Tools {
		t := &domain.Tool{
			Name:             st.Name,
			Description:      st.Description,
			Category:         st.Category,
			Source:           domain.ToolSource(st.Source),
			Endpoint:         st.Endpoint,
			Parameters:       st.Parameters,
			Enabled:          boolOr(st.Enabled, true),
			Dangerous:        st.Dangerous,
			RequiresApproval: st.RequiresApproval,
			Tags:             st.Tags,
		}
		if err := s.SaveTool(ctx, t); err != nil {
			return res, err
		}
		res.Tools++
	}
	for _, sa := range f.AgentTypes {
		a := &domain.AgentType{
			Name:         sa.Name,
			Label:        sa.Label,
			Description:  sa.Description,
			Avatar:       sa.Avatar,
			Model:        sa.Model,
			SystemPrompt: sa.SystemPrompt,
			Temperature:  sa.Temperature,
			Streaming:    boolOr(sa.Streaming, true),
			ContextLimit: sa.ContextLimit,
			MaxTokens:    sa.MaxTokens,
			Enabled:      boolOr(sa.Enabled, true),
			IsDefault:    sa.Default,
		}
		if a.Label == "" {
			a.Label = a.Name
		}
		if err := s.SaveAgentType(ctx, a); err != nil {
			return res, err
		}
		res.AgentTypes++
		for _, asg := range sa.Tools {
			limit := domain.UnlimitedUsage
			if asg.UsageLimit != nil {
				limit = *asg.UsageLimit
			}
			_, err := s.Assign(ctx, a.Name, asg.Tool, domain.ToolAssignment{
				EnabledForAgent:  boolOr(asg.Enabled, true),
				Order:            asg.Order,
				AllowUse:         boolOr(asg.AllowUse, true),
				RequiresApproval: asg.RequiresApproval,
				UsageLimit:       limit,
				Constraints:      asg.ParameterConstraints,
			})
			if err != nil {
				return res, err
			}
			res.Assignments++
		}
	}
	return res, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
