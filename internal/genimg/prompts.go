// internal/genimg/prompts.go
package genimg

import (
	"fmt"
)

// 五类生成操作的提示词模板
// 参照图像的顺序约定写在各构造函数的注释里

// BuildModelPrompt 由用户照片生成全身模特图
// 参照图像: [用户照片]
func BuildModelPrompt() string {
	return "You are an expert fashion photographer AI. Transform the person in this image into a full-body fashion model photo suitable for an e-commerce website. The background must be a clean, neutral studio backdrop (light gray, #f0f0f0). The person should have a neutral, professional model expression. Preserve the person's identity, unique features, and body type, but place them in a standard, relaxed standing model pose. The final image must be photorealistic. Return ONLY the final image."
}

// BuildTryOnPrompt 将一件服装穿到当前模特图上
// 参照图像: [当前模特图, 服装图]
func BuildTryOnPrompt(garmentName string) string {
	return fmt.Sprintf("You are an expert virtual try-on AI. You will be given a 'model image' and a 'garment image'. Your task is to create a new photorealistic image where the person from the 'model image' is wearing the garment '%s' from the 'garment image'. The garment must fit the person's body with natural folds, shadows, and lighting. Preserve the person's face, hair, body shape, and pose exactly. Preserve the background of the 'model image'. Return ONLY the final image.", garmentName)
}

// BuildPosePrompt 生成同一穿搭的姿势变体
// 参照图像: [当前层任一已有姿势图]
func BuildPosePrompt(poseInstruction string) string {
	return fmt.Sprintf("You are an expert fashion photographer AI. Take this image and regenerate it from a different perspective. The person, clothing, and background style must remain identical. The new perspective should be: \"%s\". Return ONLY the final image.", poseInstruction)
}

// BuildMoodBoardPrompt 依据情绪板整体换装
// 参照图像: [原始基础模特图, 情绪板图]
func BuildMoodBoardPrompt() string {
	return "You are an expert fashion stylist AI. You will be given a 'model image' and a 'style reference image' (a mood board). Dress the person from the 'model image' in a complete outfit inspired by the aesthetic, colors, and garments of the 'style reference image'. Preserve the person's face, hair, body shape, and pose exactly. Keep the clean studio backdrop of the 'model image'. The final image must be photorealistic. Return ONLY the final image."
}

// BuildRefinePrompt 按自由文本指令编辑当前展示图像
// 参照图像: [当前展示图]
func BuildRefinePrompt(instruction string) string {
	return fmt.Sprintf("You are an expert fashion photo editor AI. Edit this image following the instruction: \"%s\". Only change what the instruction asks for; preserve the person's identity, pose, and the studio backdrop. The result must stay photorealistic. Return ONLY the final image.", instruction)
}
