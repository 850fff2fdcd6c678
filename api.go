package heirkeep

import (
	"net/http"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/heirkeep/heirkeep/common"
	"github.com/heirkeep/heirkeep/schema"
)

func (h *Heirkeep) runAPI(port string) {
	r := h.engine
	r.Use(common.CORSMiddleware())
	if !h.devMode {
		r.Use(common.LimiterMiddleware(600, "M", h.config.GetIPWhiteList()))
	}
	v1 := r.Group("/")
	{
		v1.POST("/heartbeat", h.submitHeartbeat)
		v1.GET("/status/:address", h.getStatus)
		v1.GET("/users", h.getUsers)
		v1.GET("/liquidations/:address", h.getLiquidations)
		v1.POST("/liquidation/check", h.triggerScan)
		v1.GET("/info", h.getInfo)
		if h.vault != nil {
			v1.GET("/vault/:address", h.getVaultBalance)
		}
	}

	h.srv = &http.Server{Addr: port, Handler: r}
	if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(err)
	}
}

func (h *Heirkeep) submitHeartbeat(c *gin.Context) {
	req := schema.HeartbeatReq{}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, err.Error())
		return
	}

	rec, err := h.processHeartbeat(req)
	if err != nil {
		common.HeartbeatCounter.WithLabelValues("rejected").Inc()
		switch err {
		case schema.ErrBadAddress:
			errorResponse(c, err.Error())
		case schema.ErrBadSignature, schema.ErrStaleHeartbeat, schema.ErrReplayedNonce:
			c.JSON(http.StatusUnauthorized, schema.RespErr{Err: err.Error()})
		case schema.ErrNotRegistered:
			c.JSON(http.StatusNotFound, schema.RespErr{Err: err.Error()})
		default:
			internalErrorResponse(c, err.Error())
		}
		return
	}
	common.HeartbeatCounter.WithLabelValues("accepted").Inc()
	c.JSON(http.StatusOK, schema.HeartbeatResp{Success: true, LastSeen: rec.LastSeen})
}

func (h *Heirkeep) getStatus(c *gin.Context) {
	addr := c.Param("address")
	if !ethcommon.IsHexAddress(addr) {
		errorResponse(c, schema.ErrBadAddress.Error())
		return
	}
	user := ethcommon.HexToAddress(addr)

	resp := schema.StatusResp{Address: strings.ToLower(addr)}
	info, err := h.backend.GetUserInfo(user)
	if err == nil {
		resp.Registered = true
		resp.Dead = info.Dead
		canLiquidate, remaining, err := h.backend.CheckStatus(user)
		if err != nil {
			internalErrorResponse(c, err.Error())
			return
		}
		resp.CanLiquidate = canLiquidate
		resp.TimeRemaining = remaining
	}
	if rec, err := h.store.LoadHeartbeat(addr); err == nil {
		resp.LastSeen = rec.LastSeen
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Heirkeep) getUsers(c *gin.Context) {
	recs, err := h.store.LoadAllHeartbeats()
	if err != nil {
		internalErrorResponse(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *Heirkeep) getLiquidations(c *gin.Context) {
	addr := c.Param("address")
	if !ethcommon.IsHexAddress(addr) {
		errorResponse(c, schema.ErrBadAddress.Error())
		return
	}
	recs, err := h.wdb.GetLiquidations(strings.ToLower(addr))
	if err != nil {
		internalErrorResponse(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, recs)
}

// triggerScan runs one manual scan pass; rejected while another pass holds
// the single-flight guard.
func (h *Heirkeep) triggerScan(c *gin.Context) {
	report, ok := h.tryScan()
	if !ok {
		c.JSON(http.StatusConflict, schema.RespErr{Err: "scan_already_running"})
		return
	}
	if report == nil {
		internalErrorResponse(c, "scan pass failed")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Heirkeep) getVaultBalance(c *gin.Context) {
	addr := c.Param("address")
	if !ethcommon.IsHexAddress(addr) {
		errorResponse(c, schema.ErrBadAddress.Error())
		return
	}
	ben := ethcommon.HexToAddress(addr)
	c.JSON(http.StatusOK, gin.H{
		"beneficiary":  strings.ToLower(addr),
		"balance":      h.vault.BalanceOf(ben).String(),
		"totalTracked": h.vault.TotalTracked().String(),
	})
}

func (h *Heirkeep) getInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"chainId":      h.backend.ChainId(),
		"devMode":      h.devMode,
		"scanInterval": h.config.GetScanInterval().String(),
		"tokens":       h.config.GetTokens(),
	})
}

func errorResponse(c *gin.Context, err string) {
	// client error
	c.JSON(http.StatusBadRequest, schema.RespErr{
		Err: err,
	})
}

func internalErrorResponse(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, schema.RespErr{
		Err: err,
	})
}
