// This is a http type of reporter.
// It fetches data from internal state/statedb
// and publishes on the http routes.

package reporter

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aibkh/dca-bridge-go/state"
)

const (
	ROUTE_HEALTH  = "/health"
	ROUTE_HISTORY = "/dca/history"
	ROUTE_SUMMARY = "/dca/summary"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data source
	statedb *state.StateDB
}

func NewHttpReporter(serverIP string, serverPort string, statedb *state.StateDB) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		statedb:    statedb,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HEALTH, Health)
	router.GET(ROUTE_HISTORY, h.History)
	router.GET(ROUTE_SUMMARY, h.Summary)

	return router
}

// Hook up router & ip:port
func (h *HttpReporter) Run() {
	router := h.SetupRouter()
	address := h.serverIP + ":" + h.serverPort
	if err := router.Run(address); err != nil {
		panic(err)
	}
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Fetch recent bridge event records, newest first.
func (h *HttpReporter) History(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := h.statedb.GetHistory(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]gin.H, 0, len(records))
	for _, rec := range records {
		items = append(items, historyItem(rec))
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

// Aggregate totals over all recorded bridge events.
func (h *HttpReporter) Summary(c *gin.Context) {
	summary, err := h.statedb.GetSummary()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trade_count": summary.Count,
		"total_usdc":  bigIntStr(summary.TotalBridged),
		"total_btc":   bigIntStr(summary.TotalSwapped),
	})
}

func historyItem(rec *state.BridgeEventRecord) gin.H {
	return gin.H{
		"seq":              rec.Seq,
		"chain_id":         rec.ChainId,
		"event_tx_hash":    rec.EventTxHash.Hex(),
		"log_index":        rec.LogIndex,
		"transfer_id":      rec.TransferId.Hex(),
		"plan_id":          rec.PlanId,
		"threshold_index":  rec.ThresholdIndex,
		"usdc_amount":      bigIntStr(rec.UsdcAmount),
		"price":            rec.Price,
		"price_updated_at": rec.PriceUpdatedAt.Unix(),
		"mint_tx_hash":     rec.MintTxHash.Hex(),
		"swap_tx_hash":     rec.SwapTxHash.Hex(),
		"btc_out":          bigIntStr(rec.BtcOut),
		"created_at":       rec.CreatedAt.Unix(),
	}
}

func bigIntStr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
