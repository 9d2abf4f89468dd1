package database

import "context"

func UpsertChatInfo(ctx context.Context, info *ChatInfo) error {
	if err := db.WithContext(ctx).Save(info).Error; err != nil {
		return err
	}
	return nil
}

func GetChatInfo(ctx context.Context, chatID int64) (*ChatInfo, error) {
	var info ChatInfo
	if err := db.WithContext(ctx).Where("chat_id = ?", chatID).First(&info).Error; err != nil {
		return nil, err
	}
	return &info, nil
}

func DeleteChatInfo(ctx context.Context, chatID int64) error {
	if err := db.WithContext(ctx).Where("chat_id = ?", chatID).
		Delete(&ChatInfo{ChatID: chatID}).Error; err != nil {
		return err
	}
	return nil
}

func GetAllChatInfos(ctx context.Context) ([]*ChatInfo, error) {
	var infos []*ChatInfo
	if err := db.WithContext(ctx).Find(&infos).Error; err != nil {
		return nil, err
	}
	return infos, nil
}
