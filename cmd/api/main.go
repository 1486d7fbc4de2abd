package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceattend/internal/attendance"
	"faceattend/internal/auth"
	"faceattend/internal/classroom"
	"faceattend/internal/cloudinary"
	"faceattend/internal/common"
	"faceattend/internal/config"
	"faceattend/internal/face"
	"faceattend/internal/faceclient"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/imaging"
	"faceattend/internal/liveness"
	"faceattend/internal/migrations"
	"faceattend/internal/otp"
	"faceattend/internal/person"
	"faceattend/internal/queue"
	"faceattend/internal/recognition"
	"faceattend/internal/schedule"
	"faceattend/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := runMigrations(db); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	faces := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	people := person.NewRepository(db.Client)
	classes := classroom.NewRepository(db.Client)
	embeddings := face.NewStore(db.Client)
	ledgerRepo := attendance.NewRepository(db.Client)
	guard := attendance.NewGuard(ledgerRepo)

	var sessions otp.Store
	if cfg.OTPBackend == "redis" {
		sessions = otp.NewRedisStore(redisClient.Client)
		log.Println("OTP sessions backed by redis")
	} else {
		mem := otp.NewMemoryStore()
		sessions = mem
		// Redis expires keys on its own; the memory backend needs a sweeper.
		go func() {
			for range time.Tick(time.Minute) {
				if n := mem.Sweep(time.Now()); n > 0 {
					log.Printf("swept %d expired otp sessions", n)
				}
			}
		}()
	}
	codes := otp.NewManager(sessions, people, classes, guard, cfg.OTPTTL)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "faceattend:marks")
	}

	// Cloudinary client (nil when not configured)
	var photos recognition.PhotoUploader
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		photos = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured, enrollment images will not be stored")
	}

	recognizer := recognition.NewService(people, embeddings, buildLiveness(cfg, faces), face.NewRemoteEncoder(faces), photos, cfg.MatchTolerance)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewClientRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		faceHealthy := faces.Health(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy, "face_service": faceHealthy})
	})

	r.POST("/v1/auth/register", func(c *gin.Context) {
		var req struct {
			ExternalID string `json:"external_id" binding:"required"`
			Name       string `json:"name" binding:"required"`
			Email      string `json:"email"`
			Role       string `json:"role" binding:"required,oneof=student teacher"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := people.Upsert(c.Request.Context(), req.ExternalID, req.Name, req.Email, req.Role)
		if err != nil {
			abortWith(c, err)
			return
		}
		tokens, err := auth.Issue(p.ExternalID, p.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"user":          p,
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			ExternalID string `json:"external_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := people.GetByExternalID(c.Request.Context(), req.ExternalID)
		if err != nil {
			abortWith(c, err)
			return
		}
		tokens, err := auth.Issue(p.ExternalID, p.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
			"role":          p.Role,
		})
	})

	authGroup := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/faces/enroll", auth.RequireRole(person.RoleStudent), func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		imageData, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := recognizer.Enroll(c.Request.Context(), claims.Subject, imageData)
		if err != nil {
			if errors.Is(err, common.ErrLivenessFailed) {
				c.JSON(http.StatusOK, gin.H{"success": false, "message": res.Message})
				return
			}
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": res.Success, "message": res.Message})
	})

	authGroup.POST("/faces/verify", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		imageData, err := readImage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := recognizer.Verify(c.Request.Context(), claims.Subject, imageData)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":        true,
			"recognized":     res.Recognized,
			"liveness_check": res.LivenessCheck,
			"confidence":     res.Confidence,
			"message":        res.Message,
		})
	})

	authGroup.GET("/faces/:externalID", func(c *gin.Context) {
		externalID := c.Param("externalID")
		if !selfOrTeacher(c, externalID) {
			return
		}
		status, err := recognizer.EnrollmentStatus(c.Request.Context(), externalID)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	authGroup.DELETE("/faces/:externalID", func(c *gin.Context) {
		externalID := c.Param("externalID")
		if !selfOrTeacher(c, externalID) {
			return
		}
		if err := recognizer.Revoke(c.Request.Context(), externalID); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "face enrollment deleted"})
	})

	authGroup.POST("/otp/issue", auth.RequireRole(person.RoleTeacher), func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			ClassID int64 `json:"class_id" binding:"required"`
			Slot    int   `json:"slot_number" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		session, err := codes.Issue(c.Request.Context(), req.ClassID, req.Slot, claims.Subject)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"code":        session.Code,
			"class_id":    session.ClassID,
			"slot_number": session.Slot,
			"expires_at":  session.ExpiresAt,
		})
	})

	authGroup.POST("/otp/invalidate", auth.RequireRole(person.RoleTeacher), func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := codes.Invalidate(c.Request.Context(), req.Code, claims.Subject); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	authGroup.POST("/otp/validate", auth.RequireRole(person.RoleStudent), func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := codes.Validate(c.Request.Context(), strings.TrimSpace(req.Code), claims.Subject)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"valid":        true,
			"class_id":     res.ClassID,
			"class_name":   res.ClassName,
			"student_name": res.StudentName,
			"slot_number":  res.Slot,
			"message":      "Code validated successfully. Please proceed with face recognition.",
		})
	})

	authGroup.POST("/otp/consume", auth.RequireRole(person.RoleStudent), func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := codes.Consume(c.Request.Context(), strings.TrimSpace(req.Code), claims.Subject)
		if err != nil {
			abortWith(c, err)
			return
		}
		publishMark(c.Request.Context(), q, rec)
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"status":      rec.Status,
			"slot_number": rec.Slot,
			"marked_at":   rec.MarkedAt,
		})
	})

	authGroup.POST("/attendance/manual", auth.RequireRole(person.RoleTeacher), func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			StudentExternalID string `json:"student_external_id" binding:"required"`
			ClassID           int64  `json:"class_id" binding:"required"`
			Slot              int    `json:"slot_number" binding:"required"`
			Status            string `json:"status"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Status == "" {
			req.Status = attendance.StatusPresent
		}
		teacher, err := people.GetByExternalID(c.Request.Context(), claims.Subject)
		if err != nil {
			abortWith(c, err)
			return
		}
		owns, err := classes.OwnedBy(c.Request.Context(), req.ClassID, teacher.ID)
		if err != nil {
			abortWith(c, err)
			return
		}
		if !owns {
			c.JSON(http.StatusForbidden, gin.H{"error": "class not found or not owned by this teacher"})
			return
		}
		student, err := people.GetByExternalID(c.Request.Context(), req.StudentExternalID)
		if err != nil {
			abortWith(c, err)
			return
		}
		rec, err := guard.MarkOnce(c.Request.Context(), attendance.Key{
			StudentID: student.ID,
			ClassID:   req.ClassID,
			Slot:      req.Slot,
			Date:      time.Now(),
		}, req.Status, attendance.MarkedByTeacher)
		if err != nil {
			abortWith(c, err)
			return
		}
		publishMark(c.Request.Context(), q, rec)
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"student_name": student.Name,
			"status":       rec.Status,
			"slot_number":  rec.Slot,
			"marked_at":    rec.MarkedAt,
		})
	})

	authGroup.GET("/attendance/check", func(c *gin.Context) {
		externalID := c.Query("student_external_id")
		classID, _ := strconv.ParseInt(c.Query("class_id"), 10, 64)
		slot, _ := strconv.Atoi(c.Query("slot_number"))
		date := time.Now()
		if v := c.Query("date"); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			date = parsed
		}
		if externalID == "" || classID <= 0 || slot <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "student_external_id, class_id and slot_number required"})
			return
		}
		student, err := people.GetByExternalID(c.Request.Context(), externalID)
		if err != nil {
			abortWith(c, err)
			return
		}
		rec, found, err := guard.Existing(c.Request.Context(), attendance.Key{
			StudentID: student.ID, ClassID: classID, Slot: slot, Date: date,
		})
		if err != nil {
			abortWith(c, err)
			return
		}
		if !found {
			c.JSON(http.StatusOK, gin.H{"found": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"found": true, "record": rec})
	})

	authGroup.GET("/attendance/:externalID", func(c *gin.Context) {
		externalID := c.Param("externalID")
		if !selfOrTeacher(c, externalID) {
			return
		}
		student, err := people.GetByExternalID(c.Request.Context(), externalID)
		if err != nil {
			abortWith(c, err)
			return
		}
		classID, _ := strconv.ParseInt(c.Query("class_id"), 10, 64)
		from, to := dateQuery(c, "from"), dateQuery(c, "to")
		records, err := ledgerRepo.ListForStudent(c.Request.Context(), student.ID, classID, from, to)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	authGroup.GET("/slots/current", func(c *gin.Context) {
		now := time.Now()
		slot, ok := schedule.Current(now)
		resp := gin.H{
			"current_time": now.Format("15:04"),
			"slots":        schedule.Slots,
		}
		if ok {
			resp["current_slot"] = slot.Number
		}
		c.JSON(http.StatusOK, resp)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	log.Println("Server exited")
	return nil
}

func runMigrations(db *store.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.Up(db.Client, ".")
}

// buildLiveness selects the liveness strategy at construction time.
func buildLiveness(cfg config.App, faces *faceclient.Client) liveness.Strategy {
	if cfg.FaceSkip {
		log.Println("liveness: permissive demo mode (FACE_SKIP=true)")
		return liveness.Permissive{}
	}
	heuristic := liveness.NewHeuristic(liveness.NewRemoteDetector(faces))
	if cfg.LivenessMode == "advanced" {
		return liveness.NewAdvanced(faces, heuristic)
	}
	return heuristic
}

// readImage accepts either a multipart "image" file or a JSON body with a
// base64 data URL, mirroring the upload paths clients actually use.
func readImage(c *gin.Context) ([]byte, error) {
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("image")
		if err != nil {
			return nil, errors.New("image file field required")
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	var body struct {
		Image string `json:"image" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, errors.New(`provide {"image": "<base64 data URL>"}`)
	}
	frame, err := imaging.DecodeDataURL(body.Image)
	if err != nil {
		return nil, err
	}
	return frame.Raw, nil
}

// selfOrTeacher allows a person to act on their own record and teachers to
// act on anyone's.
func selfOrTeacher(c *gin.Context, externalID string) bool {
	claims, _ := auth.FromContext(c)
	if claims.Subject == externalID || claims.Role == person.RoleTeacher {
		return true
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not allowed"})
	return false
}

func publishMark(ctx context.Context, q queue.Queue, rec attendance.Record) {
	evt := queue.MarkEvent{RecordID: rec.ID, ClassID: rec.ClassID, Slot: rec.Slot, Date: rec.Date}
	if err := q.Publish(ctx, evt); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

func dateQuery(c *gin.Context, key string) *time.Time {
	v := c.Query(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil
	}
	return &t
}

// abortWith maps the error taxonomy onto HTTP statuses with a structured
// reason the frontend can branch on.
func abortWith(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	reason := "internal"
	switch {
	case errors.Is(err, common.ErrInvalidImage):
		status, reason = http.StatusBadRequest, "invalid_image"
	case errors.Is(err, common.ErrNoFaceDetected):
		status, reason = http.StatusUnprocessableEntity, "no_face"
	case errors.Is(err, common.ErrMultipleFacesDetected):
		status, reason = http.StatusUnprocessableEntity, "multiple_faces"
	case errors.Is(err, common.ErrLivenessFailed):
		status, reason = http.StatusUnprocessableEntity, "liveness_failed"
	case errors.Is(err, common.ErrNotEnrolled):
		status, reason = http.StatusNotFound, "not_enrolled"
	case errors.Is(err, common.ErrNotFound):
		status, reason = http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrExpired):
		status, reason = http.StatusGone, "expired"
	case errors.Is(err, common.ErrUnauthorized):
		status, reason = http.StatusForbidden, "unauthorized"
	case errors.Is(err, common.ErrAlreadyMarked):
		status, reason = http.StatusConflict, "already_marked"
	case errors.Is(err, common.ErrStorage):
		status, reason = http.StatusServiceUnavailable, "storage_error"
	default:
		status, reason = http.StatusBadRequest, "bad_request"
	}
	c.JSON(status, gin.H{"error": err.Error(), "reason": reason})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
