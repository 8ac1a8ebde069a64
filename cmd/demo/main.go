// cmd/demo/main.go
// 离线演示: 用本地占位提供者跑一遍完整的试衣流程
package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"math/rand"
	"os"

	"github.com/mirrorwear/fitstudio/internal/app"
	"github.com/mirrorwear/fitstudio/internal/config"
	"github.com/mirrorwear/fitstudio/internal/di"
	"github.com/mirrorwear/fitstudio/internal/genimg"
	"github.com/mirrorwear/fitstudio/internal/models"
	"github.com/mirrorwear/fitstudio/internal/services"
)

// localProvider 不访问网络，每次调用返回一张随机纯色图像
type localProvider struct{}

func (p *localProvider) Initialize(config map[string]string) error { return nil }
func (p *localProvider) GetName() string                           { return "local" }
func (p *localProvider) GetSupportedModels() []string              { return []string{"local-placeholder"} }

func (p *localProvider) GenerateImage(ctx context.Context, req genimg.GenerationRequest) (*genimg.GenerationResult, error) {
	return &genimg.GenerationResult{
		ImageData:    solidImage(),
		MimeType:     "image/jpeg",
		ModelName:    "local-placeholder",
		ProviderName: "local",
	}, nil
}

func solidImage() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	tint := color.RGBA{
		R: uint8(rand.Intn(200) + 55),
		G: uint8(rand.Intn(200) + 55),
		B: uint8(rand.Intn(200) + 55),
		A: 255,
	}
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, tint)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func main() {
	log.Println("FitStudio 离线演示")

	dataDir, err := os.MkdirTemp("", "fitstudio-demo-")
	if err != nil {
		log.Fatalf("创建临时目录失败: %v", err)
	}
	defer os.RemoveAll(dataDir)
	os.Setenv("DATA_DIR", dataDir)
	os.Setenv("LOG_DIR", dataDir)

	genimg.Register("local", func() genimg.Provider { return &localProvider{} })

	if err := config.InitConfig(dataDir); err != nil {
		log.Fatalf("初始化配置失败: %v", err)
	}
	if err := config.UpdateProviderConfig("local", map[string]string{}); err != nil {
		log.Fatalf("切换到本地提供者失败: %v", err)
	}
	if err := app.InitServices(); err != nil {
		log.Fatalf("初始化服务失败: %v", err)
	}

	container := di.GetContainer()
	sessions := container.Get("session").(*services.SessionService)
	outfit := container.Get("outfit").(*services.OutfitService)

	ctx := context.Background()

	// 1. 创建会话并生成模特图
	snap := sessions.CreateSession()
	fmt.Printf("会话已创建: %s (衣橱 %d 件)\n", snap.ID, len(snap.Wardrobe))

	snap, err = outfit.CreateModel(ctx, snap.ID, solidImage())
	must(err, "生成模特图")
	printState("模特图就绪", snap)

	// 2. 上传并试穿一件服装
	snap, err = outfit.UploadGarment(snap.ID, "Demo Jacket", solidImage())
	must(err, "上传服装")
	garmentID := snap.Wardrobe[len(snap.Wardrobe)-1].ID

	snap, err = outfit.ApplyGarment(ctx, snap.ID, garmentID)
	must(err, "试穿服装")
	printState("试穿完成", snap)

	// 3. 切换姿势
	snap, err = outfit.SelectPose(ctx, snap.ID, 2)
	must(err, "切换姿势")
	printState("姿势变体生成", snap)

	// 4. 撤销后重新套用，验证缓存命中
	snap, err = outfit.RemoveLastLayer(snap.ID)
	must(err, "撤销")
	printState("已撤销到基础层", snap)

	snap, err = outfit.ApplyGarment(ctx, snap.ID, garmentID)
	must(err, "重新套用")
	printState("重新套用（缓存命中）", snap)

	// 5. 修饰当前图像
	snap, err = outfit.RefineWithInstruction(ctx, snap.ID, "add a red scarf")
	must(err, "修饰")
	printState("修饰完成", snap)

	// 6. 查看生成历史
	records, err := outfit.GenerationHistory(snap.ID)
	must(err, "读取生成历史")
	fmt.Printf("共生成 %d 张图像:\n", len(records))
	for _, r := range records {
		fmt.Printf("  层%d [%s] %s\n", r.OutfitIndex, r.PoseLabel, r.ImageRef)
	}

	// 7. 重新开始
	snap, err = outfit.StartOver(snap.ID)
	must(err, "重新开始")
	printState("会话已重置", snap)
}

func must(err error, step string) {
	if err != nil {
		log.Fatalf("%s失败: %v", step, err)
	}
}

func printState(label string, snap *models.SessionSnapshot) {
	fmt.Printf("%s: 历史 %d 层, 指针 %d, 姿势 %d, 展示 %s\n",
		label, len(snap.State.History), snap.State.OutfitIndex,
		snap.State.PoseIndex, snap.DisplayImage)
}
