// internal/models/outfit_test.go
package models

import (
	"testing"
)

func TestInitializeBase(t *testing.T) {
	state := NewOutfitState().InitializeBase("m0")

	if len(state.History) != 1 {
		t.Fatalf("初始化后历史长度应为1，实际: %d", len(state.History))
	}
	if state.OutfitIndex != 0 || state.PoseIndex != 0 {
		t.Errorf("初始化后两个指针都应为0，实际: %d/%d", state.OutfitIndex, state.PoseIndex)
	}
	if state.History[0].Garment != nil {
		t.Error("基础层不应有服装")
	}
	if ref := state.History[0].PoseImages[PoseInstructions[0]]; ref != "m0" {
		t.Errorf("基础层图像应存于第一个姿势标签下，实际: %q", ref)
	}
}

func TestTruncateAndAppend(t *testing.T) {
	state := NewOutfitState().InitializeBase("m0")
	state = state.TruncateAndAppend(NewOutfitLayer(&WardrobeItem{ID: "shirt1"}, PoseInstructions[0], "m1"))
	state = state.TruncateAndAppend(NewOutfitLayer(&WardrobeItem{ID: "pants1"}, PoseInstructions[0], "m2"))

	if len(state.History) != 3 || state.OutfitIndex != 2 {
		t.Fatalf("连续追加后历史长度应为3且指针为2，实际: %d/%d", len(state.History), state.OutfitIndex)
	}

	// 回退两层后追加，应丢弃之后的所有层
	state = state.MoveBack().MoveBack()
	state = state.TruncateAndAppend(NewOutfitLayer(&WardrobeItem{ID: "dress1"}, PoseInstructions[0], "m3"))

	if len(state.History) != 2 {
		t.Fatalf("截断追加后历史长度应为2，实际: %d", len(state.History))
	}
	if state.History[1].GarmentID() != "dress1" {
		t.Errorf("第二层应为新追加的服装，实际: %s", state.History[1].GarmentID())
	}
	// 成功前进追加后不允许残留孤立的未来层
	if len(state.History) != state.OutfitIndex+1 {
		t.Errorf("追加后应满足 len(history)==index+1，实际: %d/%d", len(state.History), state.OutfitIndex)
	}
}

func TestMoveBackIdempotentAtZero(t *testing.T) {
	state := NewOutfitState().InitializeBase("m0")
	state = state.TruncateAndAppend(NewOutfitLayer(&WardrobeItem{ID: "shirt1"}, PoseInstructions[0], "m1"))
	state = state.MoveBack()

	for i := 0; i < 3; i++ {
		state = state.MoveBack()
		if state.OutfitIndex != 0 || state.PoseIndex != 0 {
			t.Fatalf("指针在0时MoveBack应为无操作，实际: %d/%d", state.OutfitIndex, state.PoseIndex)
		}
		if len(state.History) != 2 {
			t.Fatalf("MoveBack不应删除历史，长度实际: %d", len(state.History))
		}
	}
}

func TestDisplayImageFallback(t *testing.T) {
	state := NewOutfitState().InitializeBase("m0")

	// 当前姿势标签下有图像时直接返回
	if ref, ok := state.DisplayImage(); !ok || ref != "m0" {
		t.Errorf("应返回当前姿势图像m0，实际: %q ok=%v", ref, ok)
	}

	// 切换到未生成的姿势时回退到插入顺序的第一张
	state = state.WithPoseIndex(2)
	if ref, ok := state.DisplayImage(); !ok || ref != "m0" {
		t.Errorf("未生成姿势应回退到首张图像，实际: %q ok=%v", ref, ok)
	}

	// 空历史无图可显示
	if _, ok := NewOutfitState().DisplayImage(); ok {
		t.Error("空历史不应有展示图像")
	}
}

func TestSetPoseImage(t *testing.T) {
	state := NewOutfitState().InitializeBase("m0")
	state = state.SetPoseImage(0, PoseInstructions[2], "m0-side")

	layer := state.History[0]
	if layer.PoseImages[PoseInstructions[2]] != "m0-side" {
		t.Error("新姿势图像应已写入")
	}
	if len(layer.PoseOrder) != 2 || layer.PoseOrder[1] != PoseInstructions[2] {
		t.Errorf("新标签应追加到插入顺序末尾，实际: %v", layer.PoseOrder)
	}

	// 覆盖已有标签不改变插入顺序
	state = state.SetPoseImage(0, PoseInstructions[0], "m0-refined")
	layer = state.History[0]
	if len(layer.PoseOrder) != 2 {
		t.Errorf("覆盖已有标签不应改变插入顺序长度，实际: %v", layer.PoseOrder)
	}
	if layer.PoseImages[PoseInstructions[0]] != "m0-refined" {
		t.Error("已有标签应被原地覆盖")
	}
}

func TestGenerationHistoryDedupAndOrder(t *testing.T) {
	state := NewOutfitState().InitializeBase("m0")
	state = state.SetPoseImage(0, PoseInstructions[2], "m0-side")
	state = state.TruncateAndAppend(NewOutfitLayer(&WardrobeItem{ID: "shirt1"}, PoseInstructions[0], "m1"))
	// 重复引用：第二层的另一姿势复用m0-side
	state = state.SetPoseImage(1, PoseInstructions[2], "m0-side")
	state = state.SetPoseImage(1, PoseInstructions[1], "m1-34")

	records := state.GenerationHistory()

	want := []GenerationRecord{
		{ImageRef: "m0", OutfitIndex: 0, PoseLabel: PoseInstructions[0]},
		{ImageRef: "m0-side", OutfitIndex: 0, PoseLabel: PoseInstructions[2]},
		{ImageRef: "m1", OutfitIndex: 1, PoseLabel: PoseInstructions[0]},
		{ImageRef: "m1-34", OutfitIndex: 1, PoseLabel: PoseInstructions[1]},
	}

	if len(records) != len(want) {
		t.Fatalf("去重后应有%d条记录，实际: %d (%v)", len(want), len(records), records)
	}
	for i, rec := range records {
		if rec != want[i] {
			t.Errorf("第%d条记录不匹配，期望: %+v，实际: %+v", i, want[i], rec)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	state := NewOutfitState().InitializeBase("m0")
	clone := state.Clone()

	clone.History[0].PoseImages[PoseInstructions[0]] = "changed"
	clone.History[0].PoseOrder[0] = "changed"

	if state.History[0].PoseImages[PoseInstructions[0]] != "m0" {
		t.Error("Clone应深拷贝姿势图像映射")
	}
	if state.History[0].PoseOrder[0] != PoseInstructions[0] {
		t.Error("Clone应深拷贝姿势顺序切片")
	}
}

func TestTruncateToBaseAndAppend(t *testing.T) {
	state := NewOutfitState().InitializeBase("m0")
	state = state.TruncateAndAppend(NewOutfitLayer(&WardrobeItem{ID: "shirt1"}, PoseInstructions[0], "m1"))
	state = state.TruncateAndAppend(NewOutfitLayer(&WardrobeItem{ID: "pants1"}, PoseInstructions[0], "m2"))

	state = state.TruncateToBaseAndAppend(NewOutfitLayer(&WardrobeItem{ID: "mood1", Name: "Mood board look"}, PoseInstructions[0], "m3"))

	if len(state.History) != 2 {
		t.Fatalf("情绪板换装后应只剩基础层加一层，实际: %d", len(state.History))
	}
	if state.OutfitIndex != 1 || state.PoseIndex != 0 {
		t.Errorf("情绪板换装后指针应为1/0，实际: %d/%d", state.OutfitIndex, state.PoseIndex)
	}
	if state.History[0].GarmentID() != "" {
		t.Error("基础层应保留在索引0")
	}
}

func TestNextLayerGarmentID(t *testing.T) {
	state := NewOutfitState().InitializeBase("m0")
	if id := state.NextLayerGarmentID(); id != "" {
		t.Errorf("没有下一层时应返回空串，实际: %q", id)
	}

	state = state.TruncateAndAppend(NewOutfitLayer(&WardrobeItem{ID: "shirt1"}, PoseInstructions[0], "m1"))
	state = state.MoveBack()

	if id := state.NextLayerGarmentID(); id != "shirt1" {
		t.Errorf("应返回下一层服装ID shirt1，实际: %q", id)
	}
}
