package servobus

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/handeye/internal/httputil"
	"github.com/banshee-data/handeye/internal/units"
)

// AttachAdminRoutes mounts a page reporting the current joint angles in
// degrees.
func (r *AngleReader) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("servo-angles", "Teleoperation arm joint angles (degrees)", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		angles, err := r.ReadAngles(req.Context())
		if err != nil {
			httputil.Errorf(w, http.StatusBadGateway, "failed to read angles: %v", err)
			return
		}
		ids := make([]int, len(r.ids))
		deg := make([]float64, len(angles))
		for i, a := range angles {
			ids[i] = int(r.ids[i])
			deg[i] = units.RadToDeg(a)
		}
		httputil.WriteJSONOK(w, map[string]any{"ids": ids, "degrees": deg})
	}))
}
