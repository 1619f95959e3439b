package controller

import (
	"context"
	"strconv"
	"time"

	"vjudge/internal/vjudge/model"
	pkgerrors "vjudge/pkg/errors"
	"vjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Judge is the part of the vjudge service the management API drives.
type Judge interface {
	CheckStatus(ctx context.Context, live bool) map[string]model.AccountStatus
	Resync(ctx context.Context) []string
	Accounts() []model.RemoteAccount
}

// ClusterStatus reads the statuses published by every node.
type ClusterStatus interface {
	ReadAll(ctx context.Context) (map[string]map[string]model.AccountStatus, error)
}

// RecordReader reads cached record progress.
type RecordReader interface {
	Get(ctx context.Context, rid string) (*model.RecordSnapshot, error)
	Events(ctx context.Context, rid string) ([]model.RecordEvent, error)
}

// VJudgeController serves the remote judge management routes.
type VJudgeController struct {
	judge   Judge
	host    string
	cluster ClusterStatus
	records RecordReader

	// streamInterval is how often a record stream polls for new events.
	streamInterval time.Duration
}

// NewVJudgeController creates a controller. cluster and records may be nil.
func NewVJudgeController(judge Judge, host string, cluster ClusterStatus, records RecordReader) *VJudgeController {
	return &VJudgeController{judge: judge, host: host, cluster: cluster, records: records, streamInterval: defaultStreamInterval}
}

// Register mounts the routes on group.
func (h *VJudgeController) Register(group gin.IRoutes) {
	group.GET("/status", h.GetStatus)
	group.GET("/accounts", h.ListAccounts)
	group.POST("/resync", h.Resync)
	group.GET("/records/:rid", h.GetRecord)
	group.GET("/records/:rid/stream", h.StreamRecord)
}

type accountView struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Handle       string   `json:"handle"`
	Endpoint     string   `json:"endpoint,omitempty"`
	ProblemLists []string `json:"problemLists,omitempty"`
	EnableOn     []string `json:"enableOn,omitempty"`
}

// GetStatus returns account statuses keyed by host. The local host is always
// checked live; with scope=cluster the other nodes come from the status board.
func (h *VJudgeController) GetStatus(c *gin.Context) {
	live, _ := strconv.ParseBool(c.DefaultQuery("live", "false"))
	ctx := c.Request.Context()

	out := map[string]map[string]model.AccountStatus{}
	if c.Query("scope") == "cluster" && h.cluster != nil {
		all, err := h.cluster.ReadAll(ctx)
		if err != nil {
			response.Error(c, pkgerrors.Wrap(err, pkgerrors.CacheError))
			return
		}
		for host, statuses := range all {
			out[host] = statuses
		}
	}
	out[h.host] = h.judge.CheckStatus(ctx, live)
	response.Success(c, out)
}

// ListAccounts returns the accounts running on this node without credentials.
func (h *VJudgeController) ListAccounts(c *gin.Context) {
	accounts := h.judge.Accounts()
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{
			ID:           a.ID,
			Type:         a.Type,
			Handle:       a.Handle,
			Endpoint:     a.Endpoint,
			ProblemLists: a.ProblemLists,
			EnableOn:     a.EnableOn,
		})
	}
	response.Success(c, views)
}

// Resync starts a catalogue pass on every working account of this node.
func (h *VJudgeController) Resync(c *gin.Context) {
	started := h.judge.Resync(c.Request.Context())
	if started == nil {
		started = []string{}
	}
	response.Accepted(c, gin.H{"accounts": started})
}

// GetRecord returns the cached progress of one judge record.
func (h *VJudgeController) GetRecord(c *gin.Context) {
	rid := c.Param("rid")
	if rid == "" {
		response.ErrorWithCode(c, pkgerrors.InvalidParams, "invalid record id")
		return
	}
	if h.records == nil {
		response.ErrorWithCode(c, pkgerrors.ServiceUnavailable, "record cache disabled")
		return
	}
	ctx := c.Request.Context()
	snapshot, err := h.records.Get(ctx, rid)
	if err != nil {
		response.Error(c, pkgerrors.Wrap(err, pkgerrors.CacheError))
		return
	}
	if snapshot == nil {
		response.Error(c, pkgerrors.NotFoundError("record"))
		return
	}
	withEvents, _ := strconv.ParseBool(c.DefaultQuery("events", "false"))
	if !withEvents {
		response.Success(c, snapshot)
		return
	}
	events, err := h.records.Events(ctx, rid)
	if err != nil {
		response.Error(c, pkgerrors.Wrap(err, pkgerrors.CacheError))
		return
	}
	response.Success(c, gin.H{"record": snapshot, "events": events})
}
