// Package syscall implements the Linux/ARM64 syscall surface guest code
// reaches via a raw `svc #0`: X8 carries the syscall number, X0..X5 its
// arguments, and the result is written back to X0 using Linux's negative-
// errno convention. It is registered as the handler bound to reserved SVC
// number 0 in the shared internal/svc.Registry.
package syscall

// Syscall numbers this handler recognizes, ARM64 Linux calling
// convention (see arch/arm64/include/asm/unistd.h upstream numbering).
const (
	SYS_openat            = 56
	SYS_close              = 57
	SYS_read               = 63
	SYS_write              = 64
	SYS_readv              = 65
	SYS_writev             = 66
	SYS_pread64            = 67
	SYS_pwrite64           = 68
	SYS_lseek              = 62
	SYS_fstat              = 80
	SYS_newfstatat         = 79 // fstatat
	SYS_readlinkat         = 78
	SYS_getdents64         = 61
	SYS_mmap               = 222
	SYS_mprotect           = 226
	SYS_munmap             = 215
	SYS_brk                = 214
	SYS_futex              = 98
	SYS_rt_sigaction       = 134
	SYS_rt_sigprocmask     = 135
	SYS_tgkill             = 131
	SYS_clone              = 220
	SYS_gettid             = 178
	SYS_getpid             = 172
	SYS_set_tid_address    = 96
	SYS_clock_gettime      = 113
	SYS_nanosleep          = 101
	SYS_getuid             = 174
	SYS_prctl              = 167
	SYS_exit               = 93
	SYS_exit_group         = 94
	SYS_ioctl              = 29
	SYS_fcntl              = 25
	SYS_faccessat          = 48
	SYS_madvise            = 233
)

// AT_FDCWD is the "relative to the current working directory" sentinel
// openat/fstatat/readlinkat/faccessat accept as their dirfd argument.
const AT_FDCWD = -100
