package armlink

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/handeye/internal/httputil"
)

// AttachAdminRoutes mounts the arm console on mux: the current kinematic
// state, a raw JSON-RPC command endpoint and an emergency stop.
func (c *Client) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.Handle("arm", "Arm kinematic state", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kin, err := c.KinData(r.Context())
		if err != nil {
			httputil.Errorf(w, http.StatusBadGateway, "failed to read arm state: %v", err)
			return
		}
		httputil.WriteJSONOK(w, kin)
	}))

	debug.HandleSilentFunc("arm-command-api", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		method := strings.TrimSpace(r.FormValue("method"))
		if method == "" {
			httputil.WriteJSONError(w, http.StatusBadRequest, "missing method")
			return
		}
		var params []any
		if raw := strings.TrimSpace(r.FormValue("params")); raw != "" {
			if err := json.Unmarshal([]byte(raw), &params); err != nil {
				httputil.Errorf(w, http.StatusBadRequest, "invalid params: %v", err)
				return
			}
		}
		var result json.RawMessage
		if err := c.Call(r.Context(), method, &result, params...); err != nil {
			httputil.Errorf(w, http.StatusBadGateway, "call %s failed: %v", method, err)
			return
		}
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		httputil.WriteJSONOK(w, map[string]any{"method": method, "result": result})
	})

	debug.HandleSilentFunc("arm-stop", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		if err := c.Stop(r.Context()); err != nil {
			httputil.Errorf(w, http.StatusBadGateway, "failed to stop arm: %v", err)
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"status": fmt.Sprintf("stopped via %s", MethodStopMove)})
	})
}
