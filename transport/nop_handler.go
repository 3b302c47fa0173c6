package transport

// NopHandler ignores every event. Embed it to implement only part of Handler.
type NopHandler struct{}

func (NopHandler) OnSelfConnectionStatus(ConnectionStatus) {}
func (NopHandler) OnFriendConnectionStatus(uint32, ConnectionStatus) {}
func (NopHandler) OnFriendRequest(string, string) {}
func (NopHandler) OnFriendMessage(uint32, MessageType, string) {}
func (NopHandler) OnFileRecv(uint32, uint32, FileKind, uint64, string) {}
func (NopHandler) OnFileRecvControl(uint32, uint32, FileControl) {}
func (NopHandler) OnFileRecvChunk(uint32, uint32, uint64, []byte) {}
func (NopHandler) OnFileChunkRequest(uint32, uint32, uint64, int) {}
func (NopHandler) OnCall(uint32, bool, bool) {}
func (NopHandler) OnCallState(uint32, CallState) {}
func (NopHandler) OnBitRateStatus(uint32, uint32, uint32) {}
func (NopHandler) OnAudioReceiveFrame(uint32, AudioFrame) {}
func (NopHandler) OnVideoReceiveFrame(uint32, VideoFrame) {}

var _ Handler = NopHandler{}
