package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/telehealth-scheduling/internal/appointment"
)

const (
	minQRSize = 64
	maxQRSize = 1024
)

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+param, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func bookAppointmentHandler(svc AppointmentService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.BookRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.Book(r.Context(), identity(r), req)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func listAppointmentsHandler(svc AppointmentService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter, err := appointment.ParseListFilter(q.Get("status"), q.Get("date"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}

		appts, err := svc.List(r.Context(), identity(r), filter)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		if appts == nil {
			appts = []appointment.Detail{}
		}
		writeJSON(w, http.StatusOK, appts)
	}
}

func getAppointmentHandler(svc AppointmentService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), identity(r), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func updateStatusHandler(svc AppointmentService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id")
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.UpdateStatus(r.Context(), identity(r), id, req.Status)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func generateVideoLinkHandler(svc AppointmentService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GenerateVideoLink(r.Context(), identity(r), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func videoLinkQRHandler(svc AppointmentService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id")
		if !ok {
			return
		}

		size := 0
		if raw := r.URL.Query().Get("size"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < minQRSize || n > maxQRSize {
				writeError(w, http.StatusBadRequest, "invalid_size",
					"size must be an integer between "+strconv.Itoa(minQRSize)+" and "+strconv.Itoa(maxQRSize))
				return
			}
			size = n
		}

		png, err := svc.VideoLinkQR(r.Context(), identity(r), id, size)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(png)
	}
}

func getSlotsHandler(svc AvailabilityService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// {id} is the doctor here; it shares the segment with DELETE's slot id
		q := r.URL.Query()
		slots, err := svc.GetSlots(r.Context(), chi.URLParam(r, "id"), q.Get("startDate"), q.Get("endDate"))
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, slots)
	}
}

func addSlotHandler(svc AvailabilityService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddSlotRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		slot, err := svc.AddSlot(r.Context(), identity(r), req.StartTime, req.EndTime)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, slot)
	}
}

func removeSlotHandler(svc AvailabilityService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id")
		if !ok {
			return
		}

		if err := svc.RemoveSlot(r.Context(), identity(r), id); err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func messageHistoryHandler(svc MessageService, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "appointmentId")
		if !ok {
			return
		}

		msgs, err := svc.History(r.Context(), identity(r), id)
		if err != nil {
			writeServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}
