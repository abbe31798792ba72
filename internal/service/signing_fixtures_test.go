package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/esign-api/internal/dto"
	"github.com/noah-isme/esign-api/internal/models"
	"github.com/noah-isme/esign-api/internal/repository"
	"github.com/noah-isme/esign-api/pkg/jobs"
	"github.com/noah-isme/esign-api/pkg/lock"
	"github.com/noah-isme/esign-api/pkg/pdfstamp"
	"github.com/noah-isme/esign-api/pkg/storage"
)

var fixedNow = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu          sync.Mutex
	nextID      int64
	docs        map[int64]*models.Document
	signers     map[int64]*models.Signer
	anchors     map[int64][]models.Anchor
	completeErr error
}

func newMemStore() *memStore {
	return &memStore{
		docs:    make(map[int64]*models.Document),
		signers: make(map[int64]*models.Signer),
		anchors: make(map[int64][]models.Anchor),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) CreateWithSigners(_ context.Context, doc *models.Document, signers []*models.Signer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.ID = m.id()
	doc.CreatedAt = fixedNow
	doc.UpdatedAt = fixedNow
	stored := *doc
	m.docs[doc.ID] = &stored
	for i, signer := range signers {
		signer.ID = m.id()
		signer.DocumentID = doc.ID
		signer.Position = i + 1
		signer.CreatedAt = fixedNow
		copied := *signer
		m.signers[signer.ID] = &copied
	}
	return nil
}

func (m *memStore) FindByUUID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.docs {
		if doc.UUID == id {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) FindByID(_ context.Context, id int64) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *doc
	return &copied, nil
}

func (m *memStore) List(_ context.Context, filter models.DocumentFilter) ([]models.DocumentSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DocumentSummary
	for _, doc := range m.docs {
		if filter.Status != nil && doc.Status != *filter.Status {
			continue
		}
		if filter.CreatedBy != "" && doc.CreatedBy != filter.CreatedBy {
			continue
		}
		summary := models.DocumentSummary{Document: *doc}
		for _, signer := range m.signers {
			if signer.DocumentID == doc.ID {
				summary.SignersTotal++
				if signer.Completed() {
					summary.SignersCompleted++
				}
			}
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (m *memStore) UpdateStatus(_ context.Context, documentID int64, from []models.DocumentStatus, next models.DocumentStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok || !statusIn(doc.Status, from) {
		return repository.ErrStatusConflict
	}
	doc.Status = next
	if next == models.DocumentStatusCancelled {
		doc.CancelledAt = &at
	}
	return nil
}

func (m *memStore) ReplaceAnchors(_ context.Context, documentID int64, anchors []models.Anchor, from []models.DocumentStatus, next models.DocumentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok || !statusIn(doc.Status, from) {
		return repository.ErrStatusConflict
	}
	doc.Status = next
	stored := make([]models.Anchor, len(anchors))
	for i, a := range anchors {
		a.ID = m.id()
		a.DocumentID = documentID
		stored[i] = a
	}
	m.anchors[documentID] = stored
	return nil
}

func (m *memStore) ListSigners(_ context.Context, documentID int64) ([]models.Signer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Signer
	for _, signer := range m.signers {
		if signer.DocumentID == documentID {
			out = append(out, *signer)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) FindSignerByToken(_ context.Context, token string) (*models.Signer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, signer := range m.signers {
		if signer.Token == token {
			copied := *signer
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) UpdateSignerIdentity(_ context.Context, signerID int64, identity models.IdentitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	signer, ok := m.signers[signerID]
	if !ok || signer.Completed() {
		return repository.ErrSignerNotPending
	}
	signer.Identity = identity
	return nil
}

func (m *memStore) ListAnchors(_ context.Context, documentID int64) ([]models.Anchor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Anchor(nil), m.anchors[documentID]...), nil
}

func (m *memStore) ListAnchorsBySigner(_ context.Context, documentID, signerID int64) ([]models.Anchor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Anchor
	for _, a := range m.anchors[documentID] {
		if a.SignerID == signerID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) CompleteSigner(_ context.Context, documentID int64, c models.SignerCompletion, final models.FinalArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return m.completeErr
	}
	signer, ok := m.signers[c.SignerID]
	if !ok || signer.Completed() {
		return repository.ErrSignerNotPending
	}
	doc, ok := m.docs[documentID]
	if !ok || doc.Status == models.DocumentStatusCancelled {
		return repository.ErrStatusConflict
	}
	signer.Status = models.SignerStatusCompleted
	signer.SignatureKey = &c.SignatureKey
	signer.InitialsKey = c.InitialsKey
	signer.SelfieKey = c.SelfieKey
	signer.Identity = c.Identity
	signer.ConsentIP = optional(c.Consent.IP)
	signer.ConsentUserAgent = optional(c.Consent.UserAgent)
	signer.ConsentGeolocation = optional(c.Consent.Geolocation)
	signer.TermsVersion = optional(c.Consent.TermsVersion)
	signer.DeviceFingerprint = optional(c.Consent.DeviceFingerprint)
	completedAt := c.CompletedAt
	signer.CompletedAt = &completedAt
	signer.ExpiresAt = c.ExpiresAt
	m.saveFinalLocked(doc, final, c.CompletedAt)
	return nil
}

func (m *memStore) SaveFinal(_ context.Context, documentID int64, final models.FinalArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[documentID]
	if !ok || doc.Status == models.DocumentStatusCancelled {
		return repository.ErrStatusConflict
	}
	m.saveFinalLocked(doc, final, fixedNow)
	return nil
}

func (m *memStore) saveFinalLocked(doc *models.Document, final models.FinalArtifact, at time.Time) {
	key, hash := final.Key, final.Hash
	doc.FinalKey = &key
	doc.HashFinal = &hash
	doc.Status = final.Status
	if final.Status == models.DocumentStatusCompleted && doc.CompletedAt == nil {
		doc.CompletedAt = &at
	}
}

func (m *memStore) signer(t *testing.T, documentID int64, position int) models.Signer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, signer := range m.signers {
		if signer.DocumentID == documentID && signer.Position == position {
			return *signer
		}
	}
	t.Fatalf("signer %d not found", position)
	return models.Signer{}
}

func (m *memStore) expire(documentID int64, position int, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, signer := range m.signers {
		if signer.DocumentID == documentID && signer.Position == position {
			signer.ExpiresAt = at
		}
	}
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "mem://" + key, nil
}

func (m *memObjects) keysWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// signingHarness wires both services over the in-memory doubles.
type signingHarness struct {
	store    *memStore
	objects  *memObjects
	tokens   *SignerTokenManager
	engine   *PdfCompositionEngine
	docs     *DocumentService
	signing  *SignerCompletionService
	auditLog *memAudit
}

type memAudit struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func (m *memAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *log)
	return nil
}

func (m *memAudit) ListByResource(_ context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditLog
	for _, log := range m.logs {
		if log.Resource == resource && log.ResourceID != nil && *log.ResourceID == resourceID {
			out = append(out, log)
		}
	}
	return out, nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.logs))
	for _, log := range m.logs {
		out = append(out, log.Action)
	}
	return out
}

func newSigningHarness(t *testing.T) *signingHarness {
	t.Helper()
	store := newMemStore()
	objects := newMemObjects()
	tokens := NewSignerTokenManager(TokenManagerConfig{})
	tokens.now = func() time.Time { return fixedNow }
	engine := NewPdfCompositionEngine(store, objects, pdfstamp.NewStamper(), nil, zap.NewNop(), time.Second)
	locker := lock.NewLocalLocker(5 * time.Second)
	auditLog := &memAudit{}
	// not started, so events are written inline and visible immediately
	trail := NewAuditTrail(auditLog, nil, zap.NewNop(), jobs.QueueConfig{})

	docs := NewDocumentService(DocumentServiceDeps{
		Store:       store,
		AuditReader: auditLog,
		Objects:     objects,
		Tokens:      tokens,
		Engine:      engine,
		Locker:      locker,
		Audit:       trail,
	}, DocumentServiceConfig{LinkBaseURL: "https://sign.example.com/assinar/"})

	signing := NewSignerCompletionService(SignerCompletionDeps{
		Store:   store,
		Objects: objects,
		Tokens:  tokens,
		Engine:  engine,
		Locker:  locker,
		Audit:   trail,
	}, SignerCompletionConfig{TermsVersion: "v1"})

	return &signingHarness{store: store, objects: objects, tokens: tokens, engine: engine, docs: docs, signing: signing, auditLog: auditLog}
}

var staff = &models.StaffClaims{UserID: "staff-1", Email: "staff@example.com"}

// createDocument uploads a PDF with n signers and returns its detail.
func (h *signingHarness) createDocument(t *testing.T, pages, signers int, selfie bool) *dto.DocumentDetail {
	t.Helper()
	defs := make([]dto.SignerDefinition, signers)
	for i := range defs {
		defs[i] = dto.SignerDefinition{Kind: models.SignerKindClient, Name: fmt.Sprintf("Signer %d", i+1)}
	}
	detail, err := h.docs.Create(context.Background(), staff, dto.CreateDocumentRequest{
		SelfieRequired: selfie,
		Signers:        defs,
	}, fixturePDF(t, pages), RequestMeta{IP: "10.0.0.1"})
	require.NoError(t, err)
	return detail
}

func (h *signingHarness) setAnchors(t *testing.T, documentUUID string, anchors ...dto.AnchorInput) {
	t.Helper()
	_, err := h.docs.SetAnchors(context.Background(), staff, documentUUID, dto.SetAnchorsRequest{Anchors: anchors}, RequestMeta{})
	require.NoError(t, err)
}

func (h *signingHarness) document(t *testing.T, documentUUID string) *models.Document {
	t.Helper()
	doc, err := h.store.FindByUUID(context.Background(), documentUUID)
	require.NoError(t, err)
	return doc
}

// storedStamps recomposes from persisted rows and counts the stamps the
// stored final must carry.
func (h *signingHarness) storedStamps(t *testing.T, documentUUID string) int {
	t.Helper()
	ctx := context.Background()
	doc := h.document(t, documentUUID)
	signers, err := h.store.ListSigners(ctx, doc.ID)
	require.NoError(t, err)
	anchors, err := h.store.ListAnchors(ctx, doc.ID)
	require.NoError(t, err)
	comp, err := h.engine.Build(ctx, CompositionInput{Document: doc, Signers: signers, Anchors: anchors})
	require.NoError(t, err)
	return len(comp.Stamps)
}

func tokenFromLink(link string) string {
	return link[strings.LastIndex(link, "/")+1:]
}

func signatureAnchor(position, page int) dto.AnchorInput {
	return dto.AnchorInput{Signer: position, Kind: models.AnchorKindSignature, Page: page, X: 0.1, Y: 0.8, W: 0.3, H: 0.05}
}

func initialsAnchor(position, page int) dto.AnchorInput {
	return dto.AnchorInput{Signer: position, Kind: models.AnchorKindInitials, Page: page, X: 0.85, Y: 0.9, W: 0.1, H: 0.05}
}

func finalizeRequest(t *testing.T, initials bool) dto.FinalizeRequest {
	t.Helper()
	req := dto.FinalizeRequest{
		Signature:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(fixturePNG(t, color.RGBA{B: 160, A: 255})),
		TermsVersion: "v1",
	}
	if initials {
		req.Initials = base64.StdEncoding.EncodeToString(fixturePNG(t, color.RGBA{R: 160, A: 255}))
	}
	return req
}

func fixturePDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "pt", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	for i := 1; i <= pages; i++ {
		pdf.AddPage()
		pdf.Text(40, 60, fmt.Sprintf("page %d", i))
	}
	buf := &bytes.Buffer{}
	require.NoError(t, pdf.Output(buf))
	return buf.Bytes()
}

func fixturePNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 16))
	for x := 0; x < 40; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, c)
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func statusIn(status models.DocumentStatus, set []models.DocumentStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
