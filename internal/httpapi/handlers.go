package httpapi

import (
	"github.com/valyala/fasthttp"

	"github.com/statewheel/engine/internal/flow"
)

type startRequest struct {
	Seed map[string]interface{} `json:"seed"`
}

type eventRequest struct {
	Namespace string                 `json:"namespace"`
	Name      string                 `json:"name"`
	Version   string                 `json:"version"`
	Payload   map[string]interface{} `json:"payload"`
}

type forceRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// handleStart starts a new instance and returns its initial context.
func (s *Server) handleStart(ctx *RequestContext) error {
	var req startRequest
	if len(ctx.RequestCtx.PostBody()) > 0 {
		if err := ctx.BindJSON(&req); err != nil {
			return ctx.Error(fasthttp.StatusBadRequest, "bad_request", err.Error())
		}
	}

	sc, err := s.Engine.Start(ctx.Context(), req.Seed)
	if err != nil {
		return ctx.Error(fasthttp.StatusInternalServerError, "start_failed", err.Error())
	}
	return ctx.JSON(fasthttp.StatusCreated, sc)
}

// handleStatus returns the current persisted StateContext for an instance.
func (s *Server) handleStatus(ctx *RequestContext) error {
	id := ctx.Param("id")
	sc, err := s.Engine.GetContext(ctx.Context(), id)
	if err != nil {
		return ctx.Error(fasthttp.StatusNotFound, "not_found", err.Error())
	}
	return ctx.JSON(fasthttp.StatusOK, sc)
}

// handleEvent submits an event and synchronously returns the result of
// processing it, matching the Engine.Process contract.
func (s *Server) handleEvent(ctx *RequestContext) error {
	id := ctx.Param("id")
	var req eventRequest
	if err := ctx.BindJSON(&req); err != nil {
		return ctx.Error(fasthttp.StatusBadRequest, "bad_request", err.Error())
	}

	result, err := s.Engine.Process(ctx.Context(), id, flow.EventTypeID{
		Namespace: req.Namespace,
		Name:      req.Name,
		Version:   req.Version,
	}, req.Name, req.Payload)
	if err != nil {
		return ctx.Error(fasthttp.StatusInternalServerError, "process_failed", err.Error())
	}
	return ctx.JSON(fasthttp.StatusOK, result)
}

// handleForceTransition lets an operator force an instance to a target
// state, bypassing transition conditions (spec.md's operator override).
func (s *Server) handleForceTransition(ctx *RequestContext) error {
	id := ctx.Param("id")
	var req forceRequest
	if err := ctx.BindJSON(&req); err != nil {
		return ctx.Error(fasthttp.StatusBadRequest, "bad_request", err.Error())
	}
	if err := s.Engine.ForceTransition(ctx.Context(), id, req.Target, req.Reason); err != nil {
		return ctx.Error(fasthttp.StatusInternalServerError, "force_failed", err.Error())
	}
	return ctx.JSON(fasthttp.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit resumes a paused instance with ContinueExecution.
func (s *Server) handleSubmit(ctx *RequestContext) error {
	id := ctx.Param("id")
	s.Executor.ContinueExecution(ctx.Context(), s.Engine, id)
	return ctx.JSON(fasthttp.StatusAccepted, map[string]string{"status": "resuming"})
}

// handlePaused lists every instance parked awaiting external resumption.
func (s *Server) handlePaused(ctx *RequestContext) error {
	infos := s.Executor.PausedInstances()
	return ctx.JSON(fasthttp.StatusOK, infos)
}

// handleDiagram renders the flow definition as a Mermaid state diagram. This
// process binds to exactly one flow (spec.md's engine facade owns one
// FlowConfig), so :id is matched against the loaded flow's own name rather
// than looked up in a multi-flow registry.
func (s *Server) handleDiagram(ctx *RequestContext) error {
	if id := ctx.Param("id"); id != "" && id != s.flowCfg.Name {
		return ctx.Error(fasthttp.StatusNotFound, "not_found", "no such flow: "+id)
	}
	ctx.RequestCtx.SetStatusCode(fasthttp.StatusOK)
	ctx.RequestCtx.SetContentType("text/plain; charset=utf-8")
	_, err := ctx.RequestCtx.WriteString(flow.Visualize(s.flowConfig()))
	return err
}

// handleHealth is a liveness probe, unauthenticated.
func (s *Server) handleHealth(ctx *RequestContext) error {
	return ctx.JSON(fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) flowConfig() *flow.FlowConfig {
	return s.flowCfg
}
