package ffmpeg

/*
#cgo pkg-config: libavutil
#include <libavutil/avutil.h>
#include <libavutil/error.h>
#include <libavutil/log.h>

// 辅助函数来处理AVERROR宏
static inline int get_averror_eagain() {
    return AVERROR(EAGAIN);
}

static inline int get_averror_eof() {
    return AVERROR_EOF;
}

static inline int64_t get_nopts() {
    return AV_NOPTS_VALUE;
}
*/
import "C"
import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/stydxm/screenrec/pkg/stream"
)

var logLevelOnce sync.Once

// QuietLogs 只让libav输出错误级别日志
func QuietLogs() {
	logLevelOnce.Do(func() {
		C.av_log_set_level(C.AV_LOG_ERROR)
	})
}

func isEAgain(ret C.int) bool { return ret == C.get_averror_eagain() }

func isEOF(ret C.int) bool { return ret == C.get_averror_eof() }

// avError 把libav的负返回值转换为带描述的error
func avError(op string, ret C.int) error {
	buf := make([]byte, 256)
	C.av_strerror(ret, (*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf)))
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return fmt.Errorf("%s: %s (%d)", op, string(buf[:n]), int(ret))
}

func toTS(v C.int64_t) int64 {
	if v == C.get_nopts() {
		return stream.NoPTS
	}
	return int64(v)
}

func fromTS(v int64) C.int64_t {
	if v == stream.NoPTS {
		return C.get_nopts()
	}
	return C.int64_t(v)
}
