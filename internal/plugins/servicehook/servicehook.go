// Package servicehookplugin manages organization service hook subscriptions.
// Subscriptions are create-only: a matching subscription is left as is.
package servicehookplugin

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/alexisbeaulieu97/devopsctl/internal/devops"
	"github.com/alexisbeaulieu97/devopsctl/internal/model"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugin"
	"github.com/alexisbeaulieu97/devopsctl/internal/plugins/kindutil"
	"github.com/alexisbeaulieu97/devopsctl/internal/reconcile"
	devopserrors "github.com/alexisbeaulieu97/devopsctl/pkg/errors"
)

// Kind is the manifest kind name.
const Kind = "service_hook"

const (
	defaultConsumer        = "webHooks"
	defaultResourceVersion = "1.0"
	publisherID            = "tfs"
	publisherPrefix        = "publisher_inputs."
)

// EventTypes are the events a subscription may target.
var EventTypes = []string{
	"workitem.created",
	"workitem.updated",
	"workitem.commented",
	"workitem.deleted",
	"workitem.restored",
	"git.push",
	"git.pullrequest.created",
	"git.pullrequest.updated",
	"build.complete",
	"release.deployment.completed",
}

var policy = reconcile.FieldPolicy{"consumer_id": reconcile.Normalized(reconcile.FoldCase)}

// consumers maps each supported consumer to whether it posts to webhook_url.
var consumers = map[string]bool{
	"webHooks":          true,
	"slack":             true,
	"teams":             true,
	"azureServiceBus":   false,
	"azureStorageQueue": false,
}

// Params are the manifest parameters.
type Params struct {
	EventType       string            `yaml:"event_type"`
	ConsumerType    string            `yaml:"consumer_type"`
	WebhookURL      string            `yaml:"webhook_url"`
	WorkItemType    string            `yaml:"work_item_type"`
	AreaPath        string            `yaml:"area_path"`
	FieldName       string            `yaml:"field_name"`
	PublisherInputs map[string]string `yaml:"publisher_inputs"`
	ConsumerInputs  map[string]string `yaml:"consumer_inputs"`
	ResourceVersion string            `yaml:"resource_version"`
	SubscriptionID  string            `yaml:"subscription_id"`
	State           string            `yaml:"state"`
}

// Subscription is the remote representation.
type Subscription struct {
	ID                string            `json:"id,omitempty"`
	PublisherID       string            `json:"publisherId"`
	EventType         string            `json:"eventType"`
	EventDescription  string            `json:"eventDescription,omitempty"`
	ResourceVersion   string            `json:"resourceVersion,omitempty"`
	ConsumerID        string            `json:"consumerId"`
	ConsumerActionID  string            `json:"consumerActionId"`
	ActionDescription string            `json:"actionDescription,omitempty"`
	PublisherInputs   map[string]string `json:"publisherInputs,omitempty"`
	ConsumerInputs    map[string]string `json:"consumerInputs,omitempty"`
	Status            string            `json:"status,omitempty"`
	URL               string            `json:"url,omitempty"`
	CreatedDate       string            `json:"createdDate,omitempty"`
}

// snapshot exposes the consumer url but no other consumer input, since those
// may hold connection strings.
func (s Subscription) snapshot() *reconcile.Snapshot {
	fields := reconcile.Fields{
		"id":                 s.ID,
		"event_type":         s.EventType,
		"event_description":  s.EventDescription,
		"consumer_id":        s.ConsumerID,
		"consumer_action_id": s.ConsumerActionID,
		"action_description": s.ActionDescription,
		"publisher_id":       s.PublisherID,
		"status":             s.Status,
		"url":                s.URL,
		"created_date":       s.CreatedDate,
	}
	if u := s.ConsumerInputs["url"]; u != "" {
		fields["webhook_url"] = u
	}
	for k, v := range s.PublisherInputs {
		fields[publisherPrefix+k] = v
	}
	return &reconcile.Snapshot{Kind: Kind, ID: s.ID, Name: s.EventType, Fields: fields}
}

type consumerAction struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type hookPlugin struct{}

// New creates the service_hook kind.
func New() plugin.Plugin {
	return &hookPlugin{}
}

var (
	_ plugin.Plugin    = (*hookPlugin)(nil)
	_ plugin.Inspector = (*hookPlugin)(nil)
)

func (p *hookPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Kind,
		Version:     "1.0.0",
		APIVersion:  "^1.0",
		Description: "Service hook subscriptions (webhooks, Slack, Teams, queues).",
	}
}

func (p *hookPlugin) Evaluate(ctx context.Context, req *plugin.Request) (*model.EvaluationResult, error) {
	var params Params
	if err := kindutil.Decode(req, &params); err != nil {
		return nil, err
	}
	state, err := reconcile.ParseState(params.State, reconcile.StatePresent, reconcile.StateAbsent, reconcile.StateInfo)
	if err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}

	switch state {
	case reconcile.StateInfo:
		return p.info(ctx, req, params)
	case reconcile.StateAbsent:
		return p.evaluateAbsent(ctx, req, params)
	}

	if err := validate(&params); err != nil {
		return nil, plugin.NewValidationError(req.ResourceID(), err)
	}
	publisherInputs, err := buildPublisherInputs(ctx, req, params)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}
	consumerInputs := buildConsumerInputs(params)

	existing, err := locate(ctx, req.Client, params, publisherInputs)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}
	var snap *reconcile.Snapshot
	if existing != nil {
		snap = existing.snapshot()
	}

	want := reconcile.Fields{"event_type": params.EventType, "consumer_id": params.ConsumerType}
	if u := consumerInputs["url"]; u != "" {
		want["webhook_url"] = u
	}
	for k, v := range publisherInputs {
		want[publisherPrefix+k] = v
	}

	plan := reconcile.NewPlan(Kind, label(params), state, want, snap, policy)
	return kindutil.Evaluate(ctx, req, plan, reconcile.Actions{
		Create: func(ctx context.Context, _ reconcile.Fields) (*reconcile.Snapshot, error) {
			actionID, err := firstAction(ctx, req.Client, params.ConsumerType)
			if err != nil {
				return nil, err
			}
			body := Subscription{
				PublisherID:      publisherID,
				EventType:        params.EventType,
				ResourceVersion:  params.ResourceVersion,
				ConsumerID:       params.ConsumerType,
				ConsumerActionID: actionID,
				PublisherInputs:  publisherInputs,
				ConsumerInputs:   consumerInputs,
			}
			var created Subscription
			if err := req.Client.Post(ctx, devops.OrgPath("hooks", "subscriptions"), nil, body, &created); err != nil {
				return nil, err
			}
			return created.snapshot(), nil
		},
	})
}

func (p *hookPlugin) Apply(ctx context.Context, eval *model.EvaluationResult, req *plugin.Request) (*model.ResourceResult, error) {
	return kindutil.Apply(ctx, eval, req, p.Evaluate)
}

func validate(params *Params) error {
	if params.EventType == "" {
		return devopserrors.NewValidationError("event_type", "event_type is required", nil)
	}
	if !knownEvent(params.EventType) {
		return devopserrors.NewValidationError("event_type",
			fmt.Sprintf("unsupported event_type %q (supported: %s)", params.EventType, strings.Join(EventTypes, ", ")), nil)
	}
	if params.ConsumerType == "" {
		params.ConsumerType = defaultConsumer
	}
	needsURL, ok := consumers[params.ConsumerType]
	if !ok {
		names := make([]string, 0, len(consumers))
		for name := range consumers {
			names = append(names, name)
		}
		sort.Strings(names)
		return devopserrors.NewValidationError("consumer_type",
			fmt.Sprintf("unsupported consumer_type %q (supported: %s)", params.ConsumerType, strings.Join(names, ", ")), nil)
	}
	if needsURL && params.WebhookURL == "" {
		return devopserrors.NewValidationError("webhook_url", fmt.Sprintf("webhook_url is required for the %s consumer", params.ConsumerType), nil)
	}
	if params.ResourceVersion == "" {
		params.ResourceVersion = defaultResourceVersion
	}
	return nil
}

func knownEvent(event string) bool {
	for _, e := range EventTypes {
		if e == event {
			return true
		}
	}
	return false
}

func label(params Params) string {
	if params.WebhookURL != "" {
		return params.EventType + " -> " + params.WebhookURL
	}
	return params.EventType
}

func buildPublisherInputs(ctx context.Context, req *plugin.Request, params Params) (map[string]string, error) {
	inputs := make(map[string]string, len(params.PublisherInputs)+4)
	for k, v := range params.PublisherInputs {
		inputs[k] = v
	}
	if req.Project != "" {
		project, err := req.Client.Project(ctx, req.Project)
		if err != nil {
			return nil, err
		}
		inputs["projectId"] = project.ID
	}
	if params.WorkItemType != "" {
		inputs["workItemType"] = params.WorkItemType
	}
	if params.AreaPath != "" {
		inputs["areaPath"] = params.AreaPath
	}
	if params.FieldName != "" {
		inputs["changedFields"] = params.FieldName
	}
	return inputs, nil
}

func buildConsumerInputs(params Params) map[string]string {
	inputs := make(map[string]string, len(params.ConsumerInputs)+1)
	for k, v := range params.ConsumerInputs {
		inputs[k] = v
	}
	if consumers[params.ConsumerType] {
		inputs["url"] = params.WebhookURL
	}
	return inputs
}

// locate returns the first subscription for the same event and consumer whose
// publisher inputs include every wanted input.
func locate(ctx context.Context, client *devops.Client, params Params, publisherInputs map[string]string) (*Subscription, error) {
	subs, err := devops.List[Subscription](ctx, client, devops.Request{Path: devops.OrgPath("hooks", "subscriptions")})
	if err != nil {
		return nil, err
	}
	for i := range subs {
		s := &subs[i]
		if s.EventType != params.EventType || !strings.EqualFold(s.ConsumerID, params.ConsumerType) {
			continue
		}
		if params.WebhookURL != "" && s.ConsumerInputs["url"] != params.WebhookURL {
			continue
		}
		if subset(publisherInputs, s.PublisherInputs) {
			return s, nil
		}
	}
	return nil, nil
}

func subset(want, have map[string]string) bool {
	for k, v := range want {
		if got, ok := have[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func firstAction(ctx context.Context, client *devops.Client, consumer string) (string, error) {
	actions, err := devops.List[consumerAction](ctx, client, devops.Request{Path: devops.OrgPath("hooks", "consumers", consumer, "actions")})
	if err != nil {
		return "", err
	}
	if len(actions) == 0 || actions[0].ID == "" {
		return "", devopserrors.NewNotFoundError("consumer action", consumer, "the consumer lists no actions")
	}
	return actions[0].ID, nil
}

func getSubscription(ctx context.Context, client *devops.Client, id string) (*Subscription, error) {
	var sub Subscription
	found, err := client.GetOptional(ctx, devops.OrgPath("hooks", "subscriptions", id), nil, &sub)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

func (p *hookPlugin) evaluateAbsent(ctx context.Context, req *plugin.Request, params Params) (*model.EvaluationResult, error) {
	if params.SubscriptionID == "" {
		return nil, plugin.NewValidationError(req.ResourceID(), devopserrors.NewValidationError("subscription_id", "subscription_id is required when state is absent", nil))
	}
	existing, err := getSubscription(ctx, req.Client, params.SubscriptionID)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}
	var snap *reconcile.Snapshot
	if existing != nil {
		snap = existing.snapshot()
	}
	plan := reconcile.NewPlan(Kind, params.SubscriptionID, reconcile.StateAbsent, nil, snap, nil)
	return kindutil.Evaluate(ctx, req, plan, reconcile.Actions{
		Delete: func(ctx context.Context, located *reconcile.Snapshot) error {
			return req.Client.Delete(ctx, devops.OrgPath("hooks", "subscriptions", located.ID), nil)
		},
	})
}

func (p *hookPlugin) info(ctx context.Context, req *plugin.Request, params Params) (*model.EvaluationResult, error) {
	rec := reconcile.Record{Kind: Kind, Name: params.SubscriptionID, Action: reconcile.ActionUnchanged}
	if params.SubscriptionID == "" {
		subs, err := p.List(ctx, req)
		if err != nil {
			return nil, plugin.NewStateError(req.ResourceID(), err)
		}
		items := make([]map[string]any, 0, len(subs))
		for _, s := range subs {
			items = append(items, s.Fields)
		}
		rec.Resource = map[string]any{"count": len(items), "subscriptions": items}
		return kindutil.Action(req, model.StatusSatisfied, false, fmt.Sprintf("%d subscriptions", len(items)), rec, nil), nil
	}

	snap, err := p.Show(ctx, req, params.SubscriptionID)
	if err != nil {
		return nil, plugin.NewStateError(req.ResourceID(), err)
	}
	rec.ID, rec.Resource = snap.ID, snap.Fields.Clone()
	return kindutil.Action(req, model.StatusSatisfied, false, fmt.Sprintf("subscription %s", snap.ID), rec, nil), nil
}

// Show fetches one subscription by id.
func (p *hookPlugin) Show(ctx context.Context, req *plugin.Request, id string) (*reconcile.Snapshot, error) {
	sub, err := getSubscription(ctx, req.Client, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, devopserrors.NewNotFoundError(Kind, id, "")
	}
	return sub.snapshot(), nil
}

// List returns every subscription in the organization.
func (p *hookPlugin) List(ctx context.Context, req *plugin.Request) ([]reconcile.Snapshot, error) {
	subs, err := devops.List[Subscription](ctx, req.Client, devops.Request{Path: devops.OrgPath("hooks", "subscriptions")})
	if err != nil {
		return nil, err
	}
	out := make([]reconcile.Snapshot, 0, len(subs))
	for _, s := range subs {
		out = append(out, *s.snapshot())
	}
	return out, nil
}
