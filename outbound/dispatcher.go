package outbound

import (
	"context"
	"fmt"

	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/integrations/metawa"
	"github.com/wapilot/wapilot/integrations/wasender"
	"github.com/wapilot/wapilot/llm"
)

// Dispatcher routes outbound messages to the agent's configured transport.
type Dispatcher struct {
	meta     *metawa.Client
	wasender *wasender.Client
}

func NewDispatcher(meta *metawa.Client, ws *wasender.Client) *Dispatcher {
	return &Dispatcher{meta: meta, wasender: ws}
}

func (d *Dispatcher) SendText(ctx context.Context, ag *agent.Agent, phone, text string) error {
	if ag.Provider == agent.ProviderWaSender {
		apiKey, session, err := wasenderCreds(ag)
		if err != nil {
			return err
		}
		return d.wasender.SendText(ctx, apiKey, session, phone, text)
	}
	return d.meta.SendText(ctx, ag.PhoneNumberID, ag.AccessToken, phone, text)
}

func (d *Dispatcher) SendMedia(ctx context.Context, ag *agent.Agent, phone string, action llm.MediaAction) error {
	if ag.Provider == agent.ProviderWaSender {
		apiKey, session, err := wasenderCreds(ag)
		if err != nil {
			return err
		}
		if action.Kind == "document" {
			return d.wasender.SendDocument(ctx, apiKey, session, phone, action.URL, documentName(action), action.Caption)
		}
		return d.wasender.SendMedia(ctx, apiKey, session, phone, action.URL, action.Kind, action.Caption)
	}

	if action.Kind == "document" {
		return d.meta.SendDocument(ctx, ag.PhoneNumberID, ag.AccessToken, phone, action.URL, documentName(action), action.Caption)
	}
	return d.meta.SendMedia(ctx, ag.PhoneNumberID, ag.AccessToken, phone, action.URL, action.Kind, action.Caption)
}

func (d *Dispatcher) SendTemplate(ctx context.Context, ag *agent.Agent, phone, templateName, language string, params []string) error {
	if ag.Provider != agent.ProviderMeta {
		return fmt.Errorf("provider %q does not support template messages", ag.Provider)
	}
	return d.meta.SendTemplate(ctx, ag.PhoneNumberID, ag.AccessToken, phone, templateName, language, params)
}

func wasenderCreds(ag *agent.Agent) (apiKey, session string, err error) {
	apiKey = ag.ProviderConfig.APIKey
	if apiKey == "" {
		return "", "", fmt.Errorf("agent %d has no wasender api key", ag.ID)
	}
	session = ag.ProviderConfig.Session
	if session == "" {
		session = "default"
	}
	return apiKey, session, nil
}

func documentName(action llm.MediaAction) string {
	if action.FileName != "" {
		return action.FileName
	}
	return "file"
}
