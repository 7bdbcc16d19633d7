// Package metasync reconciles local WhatsApp Business Accounts and templates
// against Meta's catalog, which is authoritative.
package metasync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"whatsapp-inbox/internal/apperr"
	"whatsapp-inbox/internal/models"
	"whatsapp-inbox/internal/repository"
	"whatsapp-inbox/internal/whatsapp"
)

// RejectedReasonPlaceholder is stored for REJECTED templates. The catalog
// endpoint does not return the provider's reason.
const RejectedReasonPlaceholder = "Rejected by Meta"

// Graph is the slice of the Graph API the reconciler needs.
type Graph interface {
	GetWaba(ctx context.Context) (*whatsapp.WabaDetails, error)
	GetTemplates(ctx context.Context, wabaAccountID string) ([]whatsapp.Template, error)
	GetTemplateByName(ctx context.Context, wabaAccountID, name, language string) (*whatsapp.Template, error)
	CreateTemplate(ctx context.Context, wabaAccountID string, tmpl whatsapp.TemplateRequest) (*whatsapp.CreateTemplateResponse, error)
	DeleteTemplate(ctx context.Context, wabaAccountID, templateName string) error
}

type SyncResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}

func (r *SyncResult) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Comparison partitions template names. Names present on both sides are
// compared on status only.
type Comparison struct {
	InSync         []string `json:"inSync"`
	OutOfSync      []string `json:"outOfSync"`
	OnlyInDatabase []string `json:"onlyInDatabase"`
	OnlyInMeta     []string `json:"onlyInMeta"`
}

type Reconciler struct {
	repo      *repository.Repository
	graph     Graph
	accountID string
}

// NewReconciler builds a reconciler for the configured account. accountID is
// used by CompareWithMeta; SyncFromMeta walks every known account.
func NewReconciler(repo *repository.Repository, graph Graph, accountID string) *Reconciler {
	return &Reconciler{repo: repo, graph: graph, accountID: accountID}
}

// SyncFromMeta runs a full reconciliation pass. Failures are collected per
// item in the result and never abort the pass.
func (r *Reconciler) SyncFromMeta(ctx context.Context) SyncResult {
	res := SyncResult{Errors: []string{}}

	if err := r.syncAccount(ctx); err != nil {
		zap.L().Error("WABA account sync failed", zap.String("waba_id", r.accountID), zap.Error(err))
		res.fail("account %s: %v", r.accountID, err)
	}

	accounts, err := r.repo.ListWabaAccounts(ctx)
	if err != nil {
		res.fail("list accounts: %v", err)
		return res
	}

	for _, acc := range accounts {
		remote, err := r.graph.GetTemplates(ctx, acc.ID)
		if err != nil {
			zap.L().Error("Fetching templates failed", zap.String("waba_id", acc.ID), zap.Error(err))
			res.fail("account %s templates: %v", acc.ID, err)
			continue
		}

		for _, tmpl := range remote {
			created, err := r.upsertTemplate(ctx, acc.ID, tmpl)
			switch {
			case err != nil:
				zap.L().Warn("Template sync failed",
					zap.String("template_id", tmpl.ID), zap.String("name", tmpl.Name), zap.Error(err))
				res.fail("template %s (%s/%s): %v", tmpl.ID, tmpl.Name, tmpl.Language, err)
			case created:
				res.Created++
			default:
				res.Updated++
			}
		}
	}

	zap.L().Info("Meta sync finished",
		zap.Int("created", res.Created), zap.Int("updated", res.Updated), zap.Int("errors", len(res.Errors)))
	return res
}

func (r *Reconciler) syncAccount(ctx context.Context) error {
	remote, err := r.graph.GetWaba(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch account")
	}

	local, err := r.repo.FindWabaAccount(ctx, remote.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	if local == nil {
		acc := &models.WabaAccount{
			ID:                       remote.ID,
			Name:                     remote.Name,
			OwnershipType:            ownershipType(remote.OwnershipType),
			TimezoneID:               remote.TimezoneID,
			MessageTemplateNamespace: remote.MessageTemplateNamespace,
			UserID:                   r.adminID(ctx),
		}
		if err := r.repo.CreateWabaAccount(ctx, acc); err != nil {
			return err
		}
		zap.L().Info("Created WABA account from Meta", zap.String("waba_id", acc.ID))
		return nil
	}

	local.Name = remote.Name
	local.TimezoneID = remote.TimezoneID
	local.MessageTemplateNamespace = remote.MessageTemplateNamespace
	if local.UserID == nil {
		local.UserID = r.adminID(ctx)
	}
	if err := r.repo.UpdateWabaAccount(ctx, local); err != nil {
		return err
	}
	zap.L().Info("Updated WABA account from Meta", zap.String("waba_id", local.ID))
	return nil
}

// adminID picks the first admin as owner of synced accounts. Multi-admin
// installs get an arbitrary but stable owner.
func (r *Reconciler) adminID(ctx context.Context) *string {
	admin, err := r.repo.FirstAdmin(ctx)
	if err != nil {
		zap.L().Warn("No admin user to own WABA account", zap.Error(err))
		return nil
	}
	return &admin.ID
}

func (r *Reconciler) upsertTemplate(ctx context.Context, accountID string, remote whatsapp.Template) (created bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Errorf("panic: %v", p)
		}
	}()

	local, err := r.repo.FindTemplate(ctx, remote.ID)
	if errors.Is(err, repository.ErrNotFound) {
		tmpl := &models.WabaTemplate{
			ID:            remote.ID,
			WabaAccountID: accountID,
			Name:          remote.Name,
		}
		applyRemote(tmpl, remote)
		return true, r.repo.CreateTemplate(ctx, tmpl)
	}
	if err != nil {
		return false, err
	}

	applyRemote(local, remote)
	return false, r.repo.SaveTemplate(ctx, local)
}

func applyRemote(tmpl *models.WabaTemplate, remote whatsapp.Template) {
	tmpl.Status = models.TemplateStatus(strings.ToUpper(remote.Status))
	tmpl.Category = models.TemplateCategory(strings.ToUpper(remote.Category))
	tmpl.Language = remote.Language
	tmpl.Components = components(remote.Components)
	tmpl.RejectedReason = rejectedReason(tmpl.Status)
}

func rejectedReason(status models.TemplateStatus) *string {
	if status != models.TemplateRejected {
		return nil
	}
	reason := RejectedReasonPlaceholder
	return &reason
}

func components(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

func ownershipType(s string) models.OwnershipType {
	if strings.EqualFold(s, string(models.OwnershipShared)) {
		return models.OwnershipShared
	}
	return models.OwnershipOwned
}

// CompareWithMeta diffs the configured account's local templates against
// the remote catalog without writing anything.
func (r *Reconciler) CompareWithMeta(ctx context.Context) (*Comparison, error) {
	local, err := r.repo.ListTemplates(ctx, r.accountID)
	if err != nil {
		return nil, apperr.Fault("compare", err)
	}
	remote, err := r.graph.GetTemplates(ctx, r.accountID)
	if err != nil {
		return nil, apperr.Fault("compare", err)
	}

	localStatus := make(map[string]string, len(local))
	for _, t := range local {
		if _, ok := localStatus[t.Name]; !ok {
			localStatus[t.Name] = string(t.Status)
		}
	}
	remoteStatus := make(map[string]string, len(remote))
	for _, t := range remote {
		if _, ok := remoteStatus[t.Name]; !ok {
			remoteStatus[t.Name] = strings.ToUpper(t.Status)
		}
	}

	cmp := &Comparison{
		InSync:         []string{},
		OutOfSync:      []string{},
		OnlyInDatabase: []string{},
		OnlyInMeta:     []string{},
	}
	for name, status := range localStatus {
		remote, ok := remoteStatus[name]
		switch {
		case !ok:
			cmp.OnlyInDatabase = append(cmp.OnlyInDatabase, name)
		case remote == status:
			cmp.InSync = append(cmp.InSync, name)
		default:
			cmp.OutOfSync = append(cmp.OutOfSync, name)
		}
	}
	for name := range remoteStatus {
		if _, ok := localStatus[name]; !ok {
			cmp.OnlyInMeta = append(cmp.OnlyInMeta, name)
		}
	}

	sort.Strings(cmp.InSync)
	sort.Strings(cmp.OutOfSync)
	sort.Strings(cmp.OnlyInDatabase)
	sort.Strings(cmp.OnlyInMeta)
	return cmp, nil
}

// RefreshTemplateStatus pulls one template's current status from Meta.
// Unlike SyncFromMeta it returns every failure to the caller.
func (r *Reconciler) RefreshTemplateStatus(ctx context.Context, templateID string) (*models.WabaTemplate, error) {
	const op = "refresh template"

	tmpl, err := r.repo.FindTemplate(ctx, templateID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Miss(op, "template %s not found locally", templateID)
	}
	if err != nil {
		return nil, apperr.Fault(op, err)
	}

	remote, err := r.graph.GetTemplateByName(ctx, tmpl.WabaAccountID, tmpl.Name, tmpl.Language)
	if errors.Is(err, whatsapp.ErrTemplateNotFound) {
		return nil, apperr.Miss(op, "template %s not found in Meta", tmpl.Name)
	}
	if err != nil {
		return nil, providerError(op, err)
	}

	tmpl.Status = models.TemplateStatus(strings.ToUpper(remote.Status))
	tmpl.RejectedReason = rejectedReason(tmpl.Status)
	if err := r.repo.SaveTemplate(ctx, tmpl); err != nil {
		return nil, apperr.Fault(op, err)
	}
	return tmpl, nil
}

// CreateTemplate submits a template to Meta and mirrors it locally once
// Meta has accepted it.
func (r *Reconciler) CreateTemplate(ctx context.Context, accountID string, req whatsapp.TemplateRequest) (*models.WabaTemplate, error) {
	const op = "create template"

	if req.Name == "" || req.Language == "" || req.Category == "" {
		return nil, apperr.Caller(op, errors.New("name, language and category are required"))
	}
	if accountID == "" {
		accountID = r.accountID
	}
	if _, err := r.repo.FindWabaAccount(ctx, accountID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Miss(op, "account %s not found locally", accountID)
		}
		return nil, apperr.Fault(op, err)
	}

	created, err := r.graph.CreateTemplate(ctx, accountID, req)
	if err != nil {
		return nil, providerError(op, err)
	}

	tmpl := &models.WabaTemplate{ID: created.ID, WabaAccountID: accountID, Name: req.Name}
	applyRemote(tmpl, whatsapp.Template{
		Language:   req.Language,
		Category:   firstNonEmpty(created.Category, req.Category),
		Status:     firstNonEmpty(created.Status, string(models.TemplatePending)),
		Components: req.Components,
	})
	if err := r.repo.CreateTemplate(ctx, tmpl); err != nil {
		return nil, apperr.Fault(op, err)
	}
	zap.L().Info("Template created", zap.String("template_id", tmpl.ID), zap.String("name", tmpl.Name))
	return tmpl, nil
}

// DeleteTemplate deletes a template at Meta, then locally. Meta deletes by
// name, so every language variant goes.
func (r *Reconciler) DeleteTemplate(ctx context.Context, templateID string) error {
	const op = "delete template"

	tmpl, err := r.repo.FindTemplate(ctx, templateID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Miss(op, "template %s not found locally", templateID)
	}
	if err != nil {
		return apperr.Fault(op, err)
	}

	if err := r.graph.DeleteTemplate(ctx, tmpl.WabaAccountID, tmpl.Name); err != nil {
		return providerError(op, err)
	}
	n, err := r.repo.DeleteTemplatesByName(ctx, tmpl.WabaAccountID, tmpl.Name)
	if err != nil {
		return apperr.Fault(op, err)
	}
	zap.L().Info("Template deleted", zap.String("name", tmpl.Name), zap.Int64("rows", n))
	return nil
}

// ListTemplates returns local templates of one account, or all when
// accountID is empty.
func (r *Reconciler) ListTemplates(ctx context.Context, accountID string) ([]models.WabaTemplate, error) {
	templates, err := r.repo.ListTemplates(ctx, accountID)
	if err != nil {
		return nil, apperr.Fault("list templates", err)
	}
	return templates, nil
}

// providerError classifies a Graph failure: 4xx responses are the caller's
// fault, anything else is treated as transient.
func providerError(op string, err error) error {
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return apperr.Caller(op, err)
	}
	return apperr.Fault(op, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
