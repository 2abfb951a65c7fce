package inbound

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/batching"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/infrastructure/coordination"
	"github.com/wapilot/wapilot/integrations/metawa"
	"github.com/wapilot/wapilot/integrations/transcribe"
	"github.com/wapilot/wapilot/integrations/wasender"
	"github.com/wapilot/wapilot/orchestrator"
)

const (
	// Dedup rows only need to survive webhook redelivery bursts.
	dedupWindow = 5 * time.Minute

	// One in ten inserts also purges expired dedup rows, amortizing the
	// cleanup across traffic instead of needing its own job.
	purgeSampleRate = 10
)

// Voice and image placeholder texts shown to the model when media handling
// fails at some stage.
const (
	voicePrefix          = "[הודעה קולית]: "
	voiceTranscribeFail  = "[הודעה קולית - לא הצלחתי לתמלל]"
	voiceDownloadFail    = "[הודעה קולית - לא הצלחתי להוריד]"
	voiceDecryptFail     = "[הודעה קולית - לא הצלחתי לפענח]"
	imagePlaceholder     = "[תמונה]"
	imageDownloadFail    = "[תמונה - לא הצלחתי להוריד]"
	imageDecryptFail     = "[תמונה - לא הצלחתי לפענח]"
)

// Dispatcher turns validated webhook events into batched conversation work:
// dedup, media preparation (transcription, image download) and submission to
// the per-conversation worker pool.
type Dispatcher struct {
	agents        agent.Repository
	conversations conversation.Repository
	batcher       *batching.Batcher
	orchestrator  *orchestrator.Orchestrator
	transcriber   *transcribe.Transcriber
	meta          *metawa.Client
	wasender      *wasender.Client
	pool          *WorkerPool
	httpClient    *http.Client

	// displayNames caches the last pushName seen per (agent, phone) so the
	// flush callback can pass it to the orchestrator.
	displayNames sync.Map
}

func NewDispatcher(agents agent.Repository, conversations conversation.Repository, orch *orchestrator.Orchestrator, transcriber *transcribe.Transcriber, meta *metawa.Client, ws *wasender.Client, pool *WorkerPool, store coordination.Store) *Dispatcher {
	d := &Dispatcher{
		agents:        agents,
		conversations: conversations,
		orchestrator:  orch,
		transcriber:   transcriber,
		meta:          meta,
		wasender:      ws,
		pool:          pool,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
	}
	d.batcher = batching.NewBatcher(store, d.flushBatch)
	return d
}

func nameKey(agentID uint, phone string) string {
	return fmt.Sprintf("%d:%s", agentID, phone)
}

func (d *Dispatcher) flushBatch(ctx context.Context, agentID uint, phone string, batch []batching.PendingMessage) {
	displayName := ""
	if v, ok := d.displayNames.Load(nameKey(agentID, phone)); ok {
		displayName = v.(string)
	}
	d.orchestrator.ProcessBatch(ctx, agentID, phone, displayName, batch)
}

// DedupKey builds the idempotency key for a Meta text event.
func DedupKey(phoneNumberID, sender, content string) string {
	h := fnv.New64a()
	h.Write([]byte(content))
	return fmt.Sprintf("%s:%s:%d", phoneNumberID, sender, h.Sum64())
}

// markProcessed inserts the dedup key and opportunistically purges old rows.
// duplicate=true means the event was already handled.
func (d *Dispatcher) markProcessed(ctx context.Context, key string) bool {
	duplicate, err := d.conversations.MarkProcessed(ctx, key)
	if err != nil {
		// Dedup is best-effort: on storage trouble, process rather than drop.
		logrus.WithError(err).Warn("[WEBHOOK] Dedup insert failed")
		return false
	}
	if !duplicate && rand.Intn(purgeSampleRate) == 0 {
		if err := d.conversations.PurgeProcessedBefore(ctx, time.Now().UTC().Add(-dedupWindow)); err != nil {
			logrus.WithError(err).Debug("[WEBHOOK] Dedup purge failed")
		}
	}
	return duplicate
}

// submitMeta queues processing of one Meta message. Returns false on dedup.
func (d *Dispatcher) submitMeta(ctx context.Context, msg metaMessage) bool {
	if d.markProcessed(ctx, DedupKey(msg.PhoneNumberID, msg.From, msg.Content)) {
		return false
	}
	d.pool.Submit(fmt.Sprintf("%s:%s", msg.PhoneNumberID, msg.From), func() {
		d.handleMeta(context.Background(), msg)
	})
	return true
}

// submitWaSender queues processing of one WA Sender message. Returns false on
// dedup.
func (d *Dispatcher) submitWaSender(ctx context.Context, agentID uint, msg *wasender.InboundMessage) bool {
	if msg.MessageID != "" && d.markProcessed(ctx, msg.MessageID) {
		return false
	}
	d.pool.Submit(fmt.Sprintf("%d:%s", agentID, msg.Phone), func() {
		d.handleWaSender(context.Background(), agentID, msg)
	})
	return true
}

// metaMessage is one extracted Meta webhook message. Content holds the text
// body for text messages and the media id for audio/image.
type metaMessage struct {
	PhoneNumberID string
	From          string
	Content       string
	UserName      string
	MsgType       string
	MimeType      string
}

func (d *Dispatcher) handleMeta(ctx context.Context, msg metaMessage) {
	ag, err := d.agents.GetByPhoneNumberID(ctx, msg.PhoneNumberID)
	if err != nil || ag == nil {
		return
	}

	text := msg.Content
	imageBase64 := ""
	msgType := msg.MsgType
	mediaType := ""

	switch msg.MsgType {
	case "audio":
		logrus.Infof("[AUDIO] Received provider=meta agent=%s", ag.Name)
		msgType = "voice"
		raw, err := d.meta.DownloadMedia(ctx, msg.Content, ag.AccessToken)
		if err != nil {
			logrus.WithError(err).Error("[AUDIO] Meta download failed")
			text = voiceDownloadFail
			break
		}
		text = d.transcribeOrFallback(ctx, raw, msg.MimeType)

	case "image":
		logrus.Infof("[IMAGE] Received provider=meta agent=%s", ag.Name)
		raw, err := d.meta.DownloadMedia(ctx, msg.Content, ag.AccessToken)
		if err != nil {
			logrus.WithError(err).Error("[IMAGE] Meta download failed")
			text = imageDownloadFail
			msgType = "text"
			break
		}
		imageBase64, mediaType = encodeImageBase64(raw, msg.MimeType)
		text = imagePlaceholder
	}

	d.enqueue(ctx, ag, msg.From, msg.UserName, batching.PendingMessage{
		Text:        text,
		MsgType:     msgType,
		ImageBase64: imageBase64,
		MediaType:   mediaType,
		Timestamp:   time.Now().UTC(),
	})
}

func (d *Dispatcher) handleWaSender(ctx context.Context, agentID uint, msg *wasender.InboundMessage) {
	ag, err := d.agents.GetByID(ctx, agentID)
	if err != nil || ag == nil || ag.Provider != agent.ProviderWaSender {
		logrus.Errorf("[WASENDER] Agent %d invalid or not wasender", agentID)
		return
	}
	apiKey := ag.ProviderConfig.APIKey

	text := msg.Text
	imageBase64 := ""
	msgType := msg.MsgType
	mediaType := ""

	switch msg.MsgType {
	case "audio":
		logrus.Infof("[AUDIO] Received provider=wasender agent=%s", ag.Name)
		msgType = "voice"
		publicURL, err := d.wasender.DecryptMedia(ctx, apiKey, msg.MessageKey, msg.MessageData)
		if err != nil {
			logrus.WithError(err).Error("[AUDIO] Decrypt failed")
			text = voiceDecryptFail
			break
		}
		raw, err := d.downloadURL(ctx, publicURL)
		if err != nil {
			text = voiceDownloadFail
			break
		}
		text = d.transcribeOrFallback(ctx, raw, msg.MimeType)

	case "image":
		logrus.Infof("[IMAGE] Received provider=wasender agent=%s", ag.Name)
		publicURL, err := d.wasender.DecryptMedia(ctx, apiKey, msg.MessageKey, msg.MessageData)
		if err != nil {
			logrus.WithError(err).Error("[IMAGE] Decrypt failed")
			text = imageDecryptFail
			msgType = "text"
			break
		}
		raw, err := d.downloadURL(ctx, publicURL)
		if err != nil {
			text = imageDownloadFail
			msgType = "text"
			break
		}
		imageBase64, mediaType = encodeImageBase64(raw, msg.MimeType)
		text = imagePlaceholder
	}

	d.enqueue(ctx, ag, msg.Phone, msg.Name, batching.PendingMessage{
		Text:        text,
		MsgType:     msgType,
		ImageBase64: imageBase64,
		MediaType:   mediaType,
		Timestamp:   wsTimestamp(msg.Timestamp),
	})
}

// enqueue hands the prepared message to the batcher, or straight to the
// orchestrator when debouncing is off.
func (d *Dispatcher) enqueue(ctx context.Context, ag *agent.Agent, phone, displayName string, pending batching.PendingMessage) {
	if displayName != "" {
		d.displayNames.Store(nameKey(ag.ID, phone), displayName)
	}

	cfg := ag.BatchingOrDefault()
	if cfg.DebounceSeconds == 0 {
		d.orchestrator.ProcessBatch(ctx, ag.ID, phone, displayName, []batching.PendingMessage{pending})
		return
	}
	if err := d.batcher.Add(ctx, ag.ID, phone, pending, cfg.DebounceSeconds, cfg.MaxBatchMessages); err != nil {
		logrus.WithError(err).Error("[BATCH] Failed to buffer message")
	}
}

// wsTimestamp converts a WA Sender unix timestamp, falling back to now for
// payloads that omit it.
func wsTimestamp(unix int64) time.Time {
	if unix <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(unix, 0).UTC()
}

func (d *Dispatcher) transcribeOrFallback(ctx context.Context, audio []byte, mimeType string) string {
	if d.transcriber == nil {
		return voiceTranscribeFail
	}
	transcript, err := d.transcriber.Transcribe(ctx, audio, mimeType)
	if err != nil {
		logrus.WithError(err).Error("[AUDIO] Transcription failed")
		return voiceTranscribeFail
	}
	return voicePrefix + transcript
}

func (d *Dispatcher) downloadURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		logrus.WithError(err).Error("[MEDIA] URL download failed")
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
