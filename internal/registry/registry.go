// Package registry holds the static catalog of student request types: their
// approver chains, dynamic field schemas, attachment requirements and
// request number prefixes.
package registry

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sis-request-api/internal/models"
	appErrors "github.com/noah-isme/sis-request-api/pkg/errors"
)

// Registry resolves request types. It is immutable after construction and safe for concurrent use.
type Registry struct {
	order    []string
	types    map[string]models.RequestType
	validate *validator.Validate
}

// Default returns the registry with the built-in workflows.
func Default() *Registry {
	r, err := New(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// New builds the registry, replacing the approver chain of the listed types.
func New(workflowOverrides map[string][]string) (*Registry, error) {
	catalog := defaultCatalog()
	r := &Registry{
		order:    make([]string, 0, len(catalog)),
		types:    make(map[string]models.RequestType, len(catalog)),
		validate: newFieldValidator(),
	}
	for _, t := range catalog {
		r.order = append(r.order, t.Code)
		r.types[t.Code] = t
	}

	for code, roles := range workflowOverrides {
		t, ok := r.types[code]
		if !ok {
			return nil, fmt.Errorf("workflow override references unknown request type %q", code)
		}
		workflow := make([]models.ApprovalRole, 0, len(roles))
		for _, raw := range roles {
			role := models.ApprovalRole(strings.ToUpper(strings.TrimSpace(raw)))
			if _, known := roleLabels[role]; !known {
				return nil, fmt.Errorf("workflow override for %s references unknown role %q", code, raw)
			}
			workflow = append(workflow, role)
		}
		t.Workflow = workflow
		r.types[code] = t
	}

	for _, code := range r.order {
		if len(r.types[code].Workflow) == 0 {
			return nil, fmt.Errorf("request type %s has an empty workflow", code)
		}
	}
	return r, nil
}

func unknownType(code string) error {
	return appErrors.CloneBilingual(appErrors.ErrUnknownRequestType,
		fmt.Sprintf("unknown request type %q", code),
		fmt.Sprintf("نوع الطلب غير موجود: %s", code))
}

// ResolveWorkflow returns the ordered approver roles for a request type.
func (r *Registry) ResolveWorkflow(code string) ([]models.ApprovalRole, error) {
	t, ok := r.types[code]
	if !ok {
		return nil, unknownType(code)
	}
	out := make([]models.ApprovalRole, len(t.Workflow))
	copy(out, t.Workflow)
	return out, nil
}

// Lookup returns the full definition of a request type.
func (r *Registry) Lookup(code string) (models.RequestType, error) {
	t, ok := r.types[code]
	if !ok {
		return models.RequestType{}, unknownType(code)
	}
	return t, nil
}

// Has reports whether the code is registered.
func (r *Registry) Has(code string) bool {
	_, ok := r.types[code]
	return ok
}

// Types lists every registered type in catalog order.
func (r *Registry) Types() []models.RequestType {
	out := make([]models.RequestType, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.types[code])
	}
	return out
}

// RoleLabel returns the bilingual title of an approval role.
func (r *Registry) RoleLabel(role models.ApprovalRole) models.Label {
	if l, ok := roleLabels[role]; ok {
		return l
	}
	return models.Label{Ar: string(role), En: string(role)}
}

// KnownRole reports whether the role exists in the role catalog.
func (r *Registry) KnownRole(role models.ApprovalRole) bool {
	_, ok := roleLabels[role]
	return ok
}

// AttachmentLabel returns the bilingual name of an attachment type.
func (r *Registry) AttachmentLabel(t models.AttachmentType) models.Label {
	if l, ok := attachmentLabels[t]; ok {
		return l
	}
	return models.Label{Ar: string(t), En: string(t)}
}

// Prefix returns the request number prefix of a type.
func (r *Registry) Prefix(code string) (string, error) {
	t, ok := r.types[code]
	if !ok {
		return "", unknownType(code)
	}
	return t.Prefix, nil
}

func (r *Registry) workflowView(t models.RequestType) []models.WorkflowStepView {
	views := make([]models.WorkflowStepView, len(t.Workflow))
	for i, role := range t.Workflow {
		label := r.RoleLabel(role)
		views[i] = models.WorkflowStepView{Step: i, Role: role, LabelAr: label.Ar, LabelEn: label.En}
	}
	return views
}

// Summaries renders the registry listing.
func (r *Registry) Summaries() []models.RequestTypeSummary {
	out := make([]models.RequestTypeSummary, 0, len(r.order))
	for _, t := range r.Types() {
		out = append(out, models.RequestTypeSummary{
			Code:     t.Code,
			NameAr:   t.NameAr,
			NameEn:   t.NameEn,
			Workflow: r.workflowView(t),
		})
	}
	return out
}

// Schema renders the form schema of one type.
func (r *Registry) Schema(code string) (*models.RequestTypeSchema, error) {
	t, err := r.Lookup(code)
	if err != nil {
		return nil, err
	}
	required := t.RequiredAttachments
	if required == nil {
		required = []models.AttachmentType{}
	}
	optional := t.OptionalAttachments
	if optional == nil {
		optional = []models.AttachmentType{}
	}
	return &models.RequestTypeSchema{
		RequestType:         t.Code,
		NameAr:              t.NameAr,
		NameEn:              t.NameEn,
		Fields:              t.Fields,
		RequiredAttachments: required,
		OptionalAttachments: optional,
		Workflow:            r.workflowView(t),
	}, nil
}

// MissingAttachments returns the required attachment types not present.
func (r *Registry) MissingAttachments(code string, present []models.AttachmentType) ([]models.AttachmentType, error) {
	t, err := r.Lookup(code)
	if err != nil {
		return nil, err
	}
	have := make(map[models.AttachmentType]struct{}, len(present))
	for _, p := range present {
		have[p] = struct{}{}
	}
	var missing []models.AttachmentType
	for _, req := range t.RequiredAttachments {
		if _, ok := have[req]; !ok {
			missing = append(missing, req)
		}
	}
	return missing, nil
}
