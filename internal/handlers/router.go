package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/edupilot/exam-service/internal/config"
	"github.com/edupilot/exam-service/internal/models"
	"github.com/edupilot/exam-service/internal/repositories"
	"github.com/edupilot/exam-service/internal/services"
	"github.com/edupilot/exam-service/internal/utils"
	"github.com/edupilot/exam-service/internal/validator"
)

type HandlerManager struct {
	examHandler         *ExamHandler
	scheduleHandler     *ScheduleHandler
	attemptHandler      *AttemptHandler
	verificationHandler *VerificationHandler
	studentHandler      *StudentHandler
	userHandler         *UserHandler
	authMiddleware      *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		examHandler:         NewExamHandler(serviceManager.Exam(), validator, logger),
		scheduleHandler:     NewScheduleHandler(serviceManager.Schedule(), validator, logger),
		attemptHandler:      NewAttemptHandler(serviceManager.Attempt(), validator, logger),
		verificationHandler: NewVerificationHandler(serviceManager.Verification(), validator, logger),
		studentHandler:      NewStudentHandler(serviceManager.Student(), logger),
		userHandler:         NewUserHandler(userRepo, logger),
		authMiddleware:      authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	managerRoles := hm.authMiddleware.RequireRoleMiddleware(models.RoleStaffManager, models.RoleDirector)
	studentRole := hm.authMiddleware.RequireRoleMiddleware(models.RoleStudent)

	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Exam and question management - managers only
		exams := v1.Group("/exams")
		exams.Use(managerRoles)
		{
			exams.POST("", hm.examHandler.CreateExam)
			exams.GET("", hm.examHandler.ListExams)
			exams.GET("/:id", hm.examHandler.GetExam)
			exams.PUT("/:id", hm.examHandler.UpdateExam)
			exams.DELETE("/:id", hm.examHandler.DeleteExam)

			exams.GET("/:id/questions", hm.examHandler.GetExamWithQuestions)
			exams.POST("/:id/questions", hm.examHandler.AddQuestion)
			exams.POST("/:id/questions/bulk", hm.examHandler.AddQuestionsBulk)
			exams.PUT("/:id/questions/:question_id", hm.examHandler.UpdateQuestion)
			exams.DELETE("/:id/questions/:question_id", hm.examHandler.RemoveQuestion)
			exams.POST("/:id/questions/import", hm.examHandler.ImportQuestions)

			exams.GET("/:id/results/export", hm.examHandler.ExportResults)
			exams.GET("/:id/schedules", hm.scheduleHandler.GetExamSchedules)
		}

		// Schedule management - managers only
		schedules := v1.Group("/schedules")
		schedules.Use(managerRoles)
		{
			schedules.POST("", hm.scheduleHandler.CreateSchedule)
			schedules.GET("", hm.scheduleHandler.ListSchedules)
			schedules.GET("/:id", hm.scheduleHandler.GetSchedule)
			schedules.PUT("/:id", hm.scheduleHandler.UpdateSchedule)
			schedules.DELETE("/:id", hm.scheduleHandler.CancelSchedule)
		}

		// Attempt lifecycle - students take exams, managers list attempts
		attempts := v1.Group("/attempts")
		{
			attempts.POST("/start", studentRole, hm.attemptHandler.StartAttempt)
			attempts.GET("/:id", studentRole, hm.attemptHandler.GetAttempt)
			attempts.POST("/:id/answers", studentRole, hm.attemptHandler.SaveAnswer)
			attempts.POST("/:id/submit", studentRole, hm.attemptHandler.SubmitAttempt)
			attempts.GET("/:id/time-remaining", studentRole, hm.attemptHandler.GetTimeRemaining)

			attempts.GET("", managerRoles, hm.attemptHandler.ListAttempts)
		}

		// Result verification workflow - managers only
		verification := v1.Group("/verification")
		verification.Use(managerRoles)
		{
			verification.GET("/pending", hm.verificationHandler.ListPending)
			verification.GET("/attempts/:id", hm.verificationHandler.ReviewAttempt)
			verification.POST("/attempts/:id/verify", hm.verificationHandler.VerifyAttempt)
			verification.POST("/attempts/:id/allow-retake", hm.verificationHandler.AllowRetake)
			verification.POST("/bulk-verify", hm.verificationHandler.BulkVerify)
			verification.GET("/statistics", hm.verificationHandler.GetStatistics)
		}

		// Student surface - students only
		students := v1.Group("/students")
		students.Use(studentRole)
		{
			students.GET("/me/exams", hm.studentHandler.ListAvailableExams)
			students.GET("/me/results", hm.studentHandler.ListResults)
			students.GET("/me/results/:id", hm.studentHandler.GetResult)
			students.GET("/me/stats", hm.studentHandler.GetStats)
		}

		// User lookups
		users := v1.Group("/users")
		{
			users.GET("/me", hm.userHandler.GetMe)
			users.GET("", managerRoles, hm.userHandler.ListUsers)
			users.GET("/search", managerRoles, hm.userHandler.SearchUsers)
			users.GET("/:id", managerRoles, hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "exam-service",
		})
	})
}
