package service

import (
	"context"
	"fmt"
	"strings"

	"warehouse/backend/internal/attrschema"
	"warehouse/backend/internal/domain"
)

func (s *Service) CreateTemplate(ctx context.Context, actor domain.Actor, req domain.TemplateCreateRequest) (domain.ProductTemplate, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.ProductTemplate{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.ProductTemplate{}, domain.Validation("name", "name is required")
	}

	attrs := make([]domain.TemplateAttribute, 0, len(req.Attributes))
	for idx, in := range req.Attributes {
		attr := domain.TemplateAttribute{
			Name:         strings.TrimSpace(in.Name),
			Variable:     strings.TrimSpace(in.Variable),
			DataType:     domain.DataType(strings.ToLower(strings.TrimSpace(string(in.DataType)))),
			Unit:         strings.TrimSpace(in.Unit),
			IsRequired:   in.IsRequired,
			UseInFormula: in.UseInFormula,
			SortOrder:    idx,
		}
		if in.SortOrder != nil {
			attr.SortOrder = *in.SortOrder
		}
		if attr.DataType == domain.DataTypeSelect {
			for _, opt := range in.Options {
				if opt = strings.TrimSpace(opt); opt != "" {
					attr.Options = append(attr.Options, opt)
				}
			}
		}
		attrs = append(attrs, attr)
	}

	formula := strings.TrimSpace(req.Formula)
	if err := attrschema.ValidateDefinition(attrs, formula); err != nil {
		return domain.ProductTemplate{}, err
	}

	created, err := s.repo.CreateTemplate(ctx, domain.ProductTemplate{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Formula:     formula,
		Status:      domain.StatusActive,
		CreatedBy:   actor.Username,
		CreatedAt:   s.now(),
		Attributes:  attrs,
	})
	if err != nil {
		return domain.ProductTemplate{}, s.classify(err, "template", name)
	}

	s.logAudit(ctx, actor, "", "template_create", "template", created.ID, fmt.Sprintf("name=%s,attributes=%d,formula=%s", created.Name, len(created.Attributes), created.Formula))
	return *created, nil
}

// GetTemplate reads a template through the template cache.
func (s *Service) GetTemplate(ctx context.Context, id string) (domain.ProductTemplate, error) {
	tpl, err := s.loadTemplate(ctx, id)
	if err != nil {
		return domain.ProductTemplate{}, err
	}
	return *tpl, nil
}

func (s *Service) loadTemplate(ctx context.Context, id string) (*domain.ProductTemplate, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.Validation("template_id", "template_id is required")
	}

	cached, found, err := s.templates.Get(ctx, id)
	if err != nil {
		s.logger.WithField("template_id", id).WithError(err).Warn("template cache read failed")
	} else if found {
		return cached, nil
	}

	tpl, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, s.classify(err, "template", id)
	}
	if err := s.templates.Set(ctx, tpl, s.templateTTL); err != nil {
		s.logger.WithField("template_id", id).WithError(err).Warn("template cache write failed")
	}
	return tpl, nil
}

func (s *Service) invalidateTemplate(ctx context.Context, id string) {
	if err := s.templates.Invalidate(ctx, id); err != nil {
		s.logger.WithField("template_id", id).WithError(err).Warn("template cache invalidate failed")
	}
}

func (s *Service) ListTemplates(ctx context.Context, status string) ([]domain.ProductTemplate, error) {
	status = strings.TrimSpace(status)
	if status != "" && status != domain.StatusActive && status != domain.StatusInactive {
		return nil, domain.Validation("status", "status must be active or inactive")
	}
	templates, err := s.repo.ListTemplates(ctx, status)
	if err != nil {
		return nil, s.classify(err, "template", "")
	}
	return templates, nil
}

func (s *Service) SetTemplateStatus(ctx context.Context, actor domain.Actor, id string, status string) (domain.ProductTemplate, error) {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return domain.ProductTemplate{}, err
	}
	if status != domain.StatusActive && status != domain.StatusInactive {
		return domain.ProductTemplate{}, domain.Validation("status", "status must be active or inactive")
	}

	updated, err := s.repo.SetTemplateStatus(ctx, id, status)
	if err != nil {
		return domain.ProductTemplate{}, s.classify(err, "template", id)
	}
	s.invalidateTemplate(ctx, id)

	s.logAudit(ctx, actor, "", "template_status", "template", id, "status="+status)
	return *updated, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, actor domain.Actor, id string) error {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return err
	}

	if err := s.repo.DeleteTemplate(ctx, id); err != nil {
		return s.classify(err, "template", id)
	}
	s.invalidateTemplate(ctx, id)

	s.logAudit(ctx, actor, "", "template_delete", "template", id, "")
	return nil
}

// TestFormula validates raw values against a template and evaluates its
// formula without touching any stored state.
func (s *Service) TestFormula(ctx context.Context, actor domain.Actor, id string, raw domain.RawAttributes) (domain.AttributeEvaluation, error) {
	if err := requireActor(actor); err != nil {
		return domain.AttributeEvaluation{}, err
	}
	tpl, err := s.loadTemplate(ctx, id)
	if err != nil {
		return domain.AttributeEvaluation{}, err
	}
	return evaluate(*tpl, raw)
}

// HashAttributes validates raw values and returns their inventory key hash.
// The formula is not evaluated.
func (s *Service) HashAttributes(ctx context.Context, actor domain.Actor, req domain.AttributeHashRequest) (domain.AttributeEvaluation, error) {
	if err := requireActor(actor); err != nil {
		return domain.AttributeEvaluation{}, err
	}
	tpl, err := s.loadTemplate(ctx, req.TemplateID)
	if err != nil {
		return domain.AttributeEvaluation{}, err
	}
	set, hash, err := normalizeAttributes(*tpl, req.Attributes)
	if err != nil {
		return domain.AttributeEvaluation{}, err
	}
	return domain.AttributeEvaluation{TemplateID: tpl.ID, Attributes: set, AttributesHash: hash}, nil
}

func evaluate(tpl domain.ProductTemplate, raw domain.RawAttributes) (domain.AttributeEvaluation, error) {
	set, hash, err := normalizeAttributes(tpl, raw)
	if err != nil {
		return domain.AttributeEvaluation{}, err
	}
	result, err := attrschema.EvaluateTemplate(tpl, set)
	if err != nil {
		return domain.AttributeEvaluation{}, err
	}
	return domain.AttributeEvaluation{
		TemplateID:     tpl.ID,
		Attributes:     set,
		AttributesHash: hash,
		Result:         result,
	}, nil
}

func normalizeAttributes(tpl domain.ProductTemplate, raw domain.RawAttributes) (domain.AttributeSet, string, error) {
	set, err := attrschema.ValidateAttributeSet(tpl, raw)
	if err != nil {
		return nil, "", err
	}
	hash, err := attrschema.ComputeAttributesHash(set)
	if err != nil {
		return nil, "", domain.System(err, false)
	}
	return set, hash, nil
}
