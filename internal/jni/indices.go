package jni

// JNI function indices: each is the entry's offset in the JNINativeInterface
// vtable (offset in struct / 8, since index 0 is reserved and indices 1-3
// are the historical reserved/C++ vtable slots). These are fixed by the
// JNI ABI itself, not a local invention.
const (
	idxGetVersion     = 4
	idxDefineClass    = 5
	idxFindClass      = 6

	idxExceptionOccurred = 15
	idxExceptionDescribe = 16
	idxExceptionClear    = 17
	idxFatalError        = 18

	idxPushLocalFrame      = 19
	idxPopLocalFrame       = 20
	idxNewGlobalRef        = 21
	idxDeleteGlobalRef     = 22
	idxDeleteLocalRef      = 23
	idxIsSameObject        = 24
	idxNewLocalRef         = 25
	idxEnsureLocalCapacity = 26

	idxAllocObject = 27
	idxNewObject   = 28

	idxGetObjectClass = 31
	idxIsInstanceOf   = 32
	idxGetMethodID    = 33

	idxCallObjectMethod  = 34
	idxCallBooleanMethod = 37
	idxCallByteMethod    = 40
	idxCallCharMethod    = 43
	idxCallShortMethod   = 46
	idxCallIntMethod     = 49
	idxCallLongMethod    = 52
	idxCallFloatMethod   = 55
	idxCallDoubleMethod  = 58
	idxCallVoidMethod    = 61

	idxGetFieldID      = 94
	idxGetObjectField  = 95
	idxGetBooleanField = 96
	idxGetIntField     = 100
	idxGetLongField    = 101
	idxSetObjectField  = 104
	idxSetIntField     = 109
	idxSetLongField    = 110

	idxGetStaticMethodID        = 113
	idxCallStaticObjectMethod   = 114
	idxCallStaticBooleanMethod  = 117
	idxCallStaticIntMethod      = 129
	idxCallStaticLongMethod     = 132
	idxCallStaticVoidMethod     = 141

	idxGetStaticFieldID       = 144
	idxGetStaticObjectField   = 145
	idxGetStaticIntField      = 150
	idxSetStaticObjectField   = 154
	idxSetStaticIntField      = 159

	idxNewString          = 163
	idxGetStringLength    = 164
	idxGetStringChars     = 165
	idxReleaseStringChars = 166

	idxNewStringUTF          = 167
	idxGetStringUTFLength    = 168
	idxGetStringUTFChars     = 169
	idxReleaseStringUTFChars = 170

	idxGetArrayLength = 171

	idxNewByteArray              = 176
	idxGetByteArrayElements      = 184
	idxReleaseByteArrayElements  = 192

	idxRegisterNatives   = 215
	idxUnregisterNatives = 216
	idxMonitorEnter      = 217
	idxMonitorExit       = 218
	idxGetJavaVM         = 219

	idxNewWeakGlobalRef    = 226
	idxDeleteWeakGlobalRef = 227
	idxExceptionCheck      = 228
)

// jniFuncCount is the size of the JNINativeInterface table this port
// populates; the real table is the same size on every Android ABI.
const jniFuncCount = 233

// JavaVM function indices (slots 0-2 are reserved).
const (
	jvmIdxDestroyJavaVM             = 3
	jvmIdxAttachCurrentThread       = 4
	jvmIdxDetachCurrentThread       = 5
	jvmIdxGetEnv                    = 6
	jvmIdxAttachCurrentThreadAsDaemon = 7
)

const javaVMFuncCount = 8

// JNI return codes and version constants, unchanged from the real ABI.
const (
	jniOK        = 0
	jniErr       = -1
	jniEDetached = -2
	jniEVersion  = -3

	jniVersion16 = 0x00010006
)
