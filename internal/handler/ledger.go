// Package handler exposes the ledger over HTTP with Gin.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/docchain/internal/identity"
	"github.com/jmerrifield20/docchain/internal/ledger"
)

// Ledger is the subset of *ledger.Ledger the HTTP layer calls.
type Ledger interface {
	Append(ctx context.Context, data []byte) (*ledger.Record, error)
	Genesis(ctx context.Context, data []byte) (*ledger.Record, error)
	Check(ctx context.Context) (ledger.Report, error)
	List(ctx context.Context) ([]*ledger.Record, error)
	ListByType(ctx context.Context, dataType string) ([]*ledger.Record, error)
	ListByIdentifier(ctx context.Context, id string) ([]*ledger.Record, error)
	Get(ctx context.Context, id uuid.UUID) (*ledger.Record, error)
	GetBySequence(ctx context.Context, seq int64) (*ledger.Record, error)
	Latest(ctx context.Context) (*ledger.Record, error)
	Export(ctx context.Context) ([]*ledger.Record, error)
}

// LedgerHandler serves the record and integrity endpoints.
type LedgerHandler struct {
	ledger Ledger
	tokens *identity.TokenIssuer // nil = open mode
	logger *zap.Logger
}

// NewLedgerHandler creates a LedgerHandler. tokens may be nil to disable auth.
func NewLedgerHandler(l Ledger, tokens *identity.TokenIssuer, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: l, tokens: tokens, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	read := identity.RequireScope(h.tokens, identity.ScopeRead)

	records := rg.Group("/records")
	{
		records.POST("", identity.RequireScope(h.tokens, identity.ScopeWrite), h.Append)
		records.GET("", read, h.List)
		records.GET("/latest", read, h.Latest)
		records.GET("/seq/:seq", read, h.GetBySequence)
		records.GET("/:id", read, h.Get)
	}
	rg.GET("/integrity", h.Integrity)
	rg.POST("/genesis", identity.RequireScope(h.tokens, identity.ScopeAdmin), h.Genesis)
	rg.GET("/export", identity.RequireScope(h.tokens, identity.ScopeAdmin), h.Export)
}

// Append handles POST /records. The body is the document to record.
func (h *LedgerHandler) Append(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	rec, err := h.ledger.Append(c.Request.Context(), body)
	RecordAppend(err)
	if err != nil {
		h.fail(c, "append", err, rec)
		return
	}
	h.logger.Info("record appended via api",
		zap.Int64("sequence", rec.Sequence),
		zap.String("subject", identity.Subject(c)),
	)
	c.JSON(http.StatusCreated, rec)
}

// Genesis handles POST /genesis.
func (h *LedgerHandler) Genesis(c *gin.Context) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}

	rec, err := h.ledger.Genesis(c.Request.Context(), body)
	if err != nil {
		h.fail(c, "genesis", err, rec)
		return
	}
	h.logger.Info("genesis created via api", zap.String("subject", identity.Subject(c)))
	c.JSON(http.StatusCreated, rec)
}

// List handles GET /records, optionally filtered by ?type= or ?identifier=.
func (h *LedgerHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		recs []*ledger.Record
		err  error
	)
	switch dataType, id := c.Query("type"), c.Query("identifier"); {
	case dataType != "" && id != "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "type and identifier filters are mutually exclusive"})
		return
	case dataType != "":
		recs, err = h.ledger.ListByType(ctx, dataType)
	case id != "":
		recs, err = h.ledger.ListByIdentifier(ctx, id)
	default:
		recs, err = h.ledger.List(ctx)
	}
	if err != nil {
		h.fail(c, "list", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

// Latest handles GET /records/latest.
func (h *LedgerHandler) Latest(c *gin.Context) {
	rec, err := h.ledger.Latest(c.Request.Context())
	if err != nil {
		h.fail(c, "latest", err, nil)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Get handles GET /records/:id.
func (h *LedgerHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return
	}
	rec, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get", err, nil)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetBySequence handles GET /records/seq/:seq.
func (h *LedgerHandler) GetBySequence(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return
	}
	rec, err := h.ledger.GetBySequence(c.Request.Context(), seq)
	if err != nil {
		h.fail(c, "get by sequence", err, nil)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Integrity handles GET /integrity. Integrity failures are reported in the
// body with status 200; only infrastructure failures change the status.
func (h *LedgerHandler) Integrity(c *gin.Context) {
	report, err := h.ledger.Check(c.Request.Context())
	RecordIntegrityCheck(report, err)
	if err != nil {
		h.fail(c, "integrity", err, nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Export handles GET /export. Records are returned without verification so a
// compromised chain can still be audited offline.
func (h *LedgerHandler) Export(c *gin.Context) {
	recs, err := h.ledger.Export(c.Request.Context())
	if err != nil {
		h.fail(c, "export", err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs, "count": len(recs)})
}

func (h *LedgerHandler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return nil, false
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON document", "kind": ledger.KindEncodingError})
		return nil, false
	}
	return body, true
}

// fail maps a ledger error onto an HTTP response.
func (h *LedgerHandler) fail(c *gin.Context, op string, err error, rec *ledger.Record) {
	kind, _ := ledger.KindOf(err)
	class := ledger.ClassOf(err)
	status := statusFor(err)

	fields := []zap.Field{zap.String("op", op), zap.String("kind", string(kind)), zap.Error(err)}
	switch {
	case class == ledger.ClassInfrastructure || status >= http.StatusInternalServerError:
		h.logger.Error("ledger request failed", fields...)
	case kind == ledger.KindNotFound || kind == ledger.KindEncodingError || kind == ledger.KindDuplicateData:
		h.logger.Debug("ledger request rejected", fields...)
	default:
		h.logger.Warn("ledger request refused", fields...)
	}

	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	resp := gin.H{"error": err.Error(), "kind": kind, "class": class.String()}
	if rec != nil {
		resp["record"] = rec
	}
	c.JSON(status, resp)
}

func statusFor(err error) int {
	kind, ok := ledger.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case ledger.KindStoreUnavailable, ledger.KindAppendConflict:
		return http.StatusServiceUnavailable
	case ledger.KindEncodingError:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindNoGenesis:
		return http.StatusPreconditionFailed
	case ledger.KindChainNotTrusted:
		if errors.Is(err, ledger.ErrEmptyChain) {
			return http.StatusPreconditionFailed
		}
		return http.StatusConflict
	case ledger.KindCheckpointStale:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}
