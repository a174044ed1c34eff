package schemes

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/welfare-scheme-portal/internal/core/domain"
)

type policyFile struct {
	Schemes map[string]struct {
		MandatoryDocuments []string `yaml:"mandatory_documents"`
	} `yaml:"schemes"`
}

// Policy is the per-scheme table of documents required for approval.
type Policy struct {
	mandatory map[domain.ApplicationType][]string
}

// LoadPolicy reads the policy from path, or the embedded default when
// path is empty.
func LoadPolicy(path string) (*Policy, error) {
	var (
		raw []byte
		err error
	)
	if path == "" {
		raw, err = definitions.ReadFile("definitions/document_policy.yaml")
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read document policy: %w", err)
	}
	return ParsePolicy(raw)
}

func ParsePolicy(raw []byte) (*Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse document policy: %w", err)
	}

	mandatory := make(map[domain.ApplicationType][]string, len(file.Schemes))
	for name, scheme := range file.Schemes {
		appType, err := domain.ParseApplicationType(name)
		if err != nil {
			return nil, fmt.Errorf("document policy: %w", err)
		}
		docs := make([]string, 0, len(scheme.MandatoryDocuments))
		for _, doc := range scheme.MandatoryDocuments {
			doc = strings.ToUpper(strings.TrimSpace(doc))
			if doc == "" {
				return nil, fmt.Errorf("document policy: empty document type for %s", appType)
			}
			docs = append(docs, doc)
		}
		mandatory[appType] = docs
	}
	return &Policy{mandatory: mandatory}, nil
}

func (p *Policy) MandatoryDocuments(appType domain.ApplicationType) []string {
	return append([]string(nil), p.mandatory[appType]...)
}
