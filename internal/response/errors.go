package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"
	ErrNotAttemptOwner   ErrCode = "NOT_ATTEMPT_OWNER"
	ErrNotExamAuthor     ErrCode = "NOT_EXAM_AUTHOR"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrConcurrentSession ErrCode = "CONCURRENT_SESSION"
	ErrAlreadySubmitted  ErrCode = "ALREADY_SUBMITTED"
	ErrAttemptNotFound   ErrCode = "ATTEMPT_NOT_FOUND"
	ErrExamNotFound      ErrCode = "EXAM_NOT_FOUND"
	ErrExamNotActive     ErrCode = "EXAM_NOT_ACTIVE"
	ErrExamEnded         ErrCode = "EXAM_ENDED"

	// ─── Review ────────────────────────────────────────────────────────
	ErrFlagNotFound          ErrCode = "FLAG_NOT_FOUND"
	ErrInvalidFlagTransition ErrCode = "INVALID_FLAG_TRANSITION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrStoreUnavailable ErrCode = "STORE_UNAVAILABLE"
	ErrInternal         ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrTeacherAccessOnly:
		return "Sumber daya ini terbatas untuk guru."
	case ErrNotAttemptOwner:
		return "Percobaan ujian ini milik siswa lain."
	case ErrNotExamAuthor:
		return "Anda bukan pembuat ujian ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrConcurrentSession:
		return "Ujian ini sedang dibuka di perangkat atau tab lain."
	case ErrAlreadySubmitted:
		return "Ujian ini sudah dikumpulkan."
	case ErrAttemptNotFound:
		return "Percobaan ujian tidak ditemukan."
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrExamNotActive:
		return "Ujian ini saat ini tidak tersedia."
	case ErrExamEnded:
		return "Waktu ujian telah berakhir."

	// ─── Review ────────────────────────────────────────────────────────
	case ErrFlagNotFound:
		return "Tanda kecurangan tidak ditemukan."
	case ErrInvalidFlagTransition:
		return "Perubahan status tanda kecurangan tidak diperbolehkan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrStoreUnavailable:
		return "Layanan sementara tidak tersedia. Silakan coba lagi."
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
